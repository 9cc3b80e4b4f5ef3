package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

var errUnreachable = errors.New("node unreachable")

type SSHConfig struct {
	User       string
	PrivateKey []byte
	// Addresses maps node ids to host[:port]; nodes missing from it are dialed by id.
	Addresses map[string]string
	// AgentCommand is run on the node as `<AgentCommand> <agent> <method>`.
	AgentCommand   string
	ConnectTimeout time.Duration
	Keepalive      time.Duration
	Logger         *slog.Logger
}

// SSHTransport runs the node agent through an SSH session, writing the JSON arguments on stdin
// and reading the JSON reply from stdout.
type SSHTransport struct {
	config SSHConfig
	signer ssh.Signer
	log    *slog.Logger

	mutex   sync.Mutex
	clients map[string]*ssh.Client
	closed  chan struct{}
}

func NewSSHTransport(config SSHConfig) (*SSHTransport, error) {
	signer, err := ssh.ParsePrivateKey(config.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
	}
	if config.AgentCommand == "" {
		config.AgentCommand = "fleet-agent"
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &SSHTransport{
		config:  config,
		signer:  signer,
		log:     config.Logger.With("component", "ssh-transport"),
		clients: map[string]*ssh.Client{},
		closed:  make(chan struct{}),
	}, nil
}

func (t *SSHTransport) address(node string) string {
	address, ok := t.config.Addresses[node]
	if !ok {
		address = node
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, "22")
	}
	return address
}

func (t *SSHTransport) client(ctx context.Context, node string) (*ssh.Client, error) {
	t.mutex.Lock()
	client, ok := t.clients[node]
	t.mutex.Unlock()
	if ok {
		return client, nil
	}

	address := t.address(node)
	dialer := net.Dialer{Timeout: t.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	sshConn, channels, requests, err := ssh.NewClientConn(conn, address, &ssh.ClientConfig{
		User:            t.config.User,
		Timeout:         t.config.ConnectTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(t.signer),
		},
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	client = ssh.NewClient(sshConn, channels, requests)

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if existing, ok := t.clients[node]; ok {
		_ = client.Close()
		return existing, nil
	}
	t.clients[node] = client
	if t.config.Keepalive > 0 {
		go t.keepalive(node, client)
	}
	return client, nil
}

func (t *SSHTransport) keepalive(node string, client *ssh.Client) {
	ticker := time.NewTicker(t.config.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@fleet", true, nil); err != nil {
				t.log.Warn("SSH keepalive failed", "node", node, "error", err)
				t.forget(node, client)
				return
			}
		}
	}
}

func (t *SSHTransport) forget(node string, client *ssh.Client) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.clients[node] == client {
		delete(t.clients, node)
	}
	_ = client.Close()
}

// run executes command on the node, feeding stdin and returning stdout. The session is closed
// when ctx is done.
func (t *SSHTransport) run(ctx context.Context, node, command string, stdin []byte) ([]byte, error) {
	client, err := t.client(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnreachable, err)
	}

	session, err := client.NewSession()
	if err != nil {
		t.forget(node, client)
		return nil, fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdin = bytes.NewReader(stdin)
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return stdout.Bytes(), nil
	}
}

func (t *SSHTransport) Discover(ctx context.Context, agent string, nodes []string) ([]string, error) {
	var mu sync.Mutex
	var found []string

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultFanOut)
	for _, node := range nodes {
		g.Go(func() error {
			if _, err := t.run(ctx, node, "true", nil); err != nil {
				t.log.Debug("Node unreachable", "node", node, "error", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			found = append(found, node)
			return nil
		})
	}
	err := g.Wait()
	return found, err
}

func (t *SSHTransport) Call(ctx context.Context, request Request) ([]Response, error) {
	args, err := json.Marshal(request.Args)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	command := shellescape.QuoteCommand([]string{t.config.AgentCommand, request.Agent, request.Method})

	var mu sync.Mutex
	var responses []Response

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultFanOut)
	for _, node := range request.Nodes {
		g.Go(func() error {
			out, err := t.run(ctx, node, command, args)
			if err != nil {
				if errors.Is(err, errUnreachable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return nil
				}
				// The agent could not be started: report it as an agent failure.
				out, _ = json.Marshal(Response{StatusCode: 1, StatusMsg: err.Error()})
			}

			var response Response
			if err := json.Unmarshal(out, &response); err != nil {
				t.log.Warn("Dropping malformed agent reply", "node", node, "error", err)
				return nil
			}
			response.Node = node

			mu.Lock()
			defer mu.Unlock()
			responses = append(responses, response)
			return nil
		})
	}
	err = g.Wait()
	return responses, err
}

func (t *SSHTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	for node, client := range t.clients {
		_ = client.Close()
		delete(t.clients, node)
	}
	return nil
}
