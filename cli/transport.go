package main

import (
	"fmt"
	"io"
	"os"

	"github.com/gammadia/fleet/cli/flags"
	"github.com/gammadia/fleet/cli/log"
	"github.com/gammadia/fleet/reporter"
	"github.com/gammadia/fleet/rpc"
	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
)

// connection holds what the run command needs to reach the nodes and publish reports.
type connection struct {
	transport rpc.Transport
	reporters reporter.Multi
	closers   []io.Closer
}

func (c *connection) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			log.Warn("Failed to close connection", "error", err)
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func connect(addresses map[string]string) (*connection, error) {
	c := &connection{reporters: reporter.Multi{reporter.Log{Logger: log.Base}}}

	var conn *nats.Conn
	natsConn := func() (*nats.Conn, error) {
		if conn != nil {
			return conn, nil
		}
		var err error
		conn, err = nats.Connect(viper.GetString(flags.NATSURL), nats.Name("fleet"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		c.closers = append(c.closers, closerFunc(func() error { conn.Close(); return nil }))
		return conn, nil
	}

	switch transport := viper.GetString(flags.Transport); transport {
	case "nats":
		nc, err := natsConn()
		if err != nil {
			return nil, err
		}
		c.transport = rpc.NewNATSTransport(nc, log.Base, rpc.WithSubjectPrefix(viper.GetString(flags.SubjectPrefix)))
	case "ssh":
		key, err := os.ReadFile(viper.GetString(flags.SSHKey))
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH private key: %w", err)
		}
		ssh, err := rpc.NewSSHTransport(rpc.SSHConfig{
			User:       viper.GetString(flags.SSHUser),
			PrivateKey: key,
			Addresses:  addresses,
			Logger:     log.Base,
		})
		if err != nil {
			return nil, err
		}
		c.transport = ssh
		c.closers = append(c.closers, ssh)
	default:
		return nil, fmt.Errorf("unknown transport '%s'", transport)
	}

	if subject := viper.GetString(flags.ReportSubject); subject != "" {
		nc, err := natsConn()
		if err != nil {
			c.Close()
			return nil, err
		}
		c.reporters = append(c.reporters, reporter.NewNATS(nc, subject))
	}
	return c, nil
}
