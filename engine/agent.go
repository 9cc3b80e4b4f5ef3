package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/gammadia/fleet/rpc"
	"github.com/klauspost/compress/zstd"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"
)

const (
	ContentEncodingZstd = "zstd+base64"

	agentShell    = "execute_shell_command"
	agentPuppet   = "puppetd"
	agentUpload   = "uploadfile"
	AgentDiscover = "systemtype"
)

type commandResult struct {
	Stdout   string `mapstructure:"stdout"`
	Stderr   string `mapstructure:"stderr"`
	ExitCode int    `mapstructure:"exit_code"`
}

func (r commandResult) summary() map[string]any {
	return map[string]any{
		"stdout":    r.Stdout,
		"stderr":    r.Stderr,
		"exit_code": r.ExitCode,
	}
}

// execute runs cmd on node through the shell agent and fails on a non-zero exit code.
func execute(ctx context.Context, client *rpc.Client, node, cmd, cwd string, timeout time.Duration, options ...rpc.CallOption) (commandResult, error) {
	var result commandResult

	args := map[string]any{"cmd": cmd, "cwd": cwd}
	if timeout > 0 {
		args["timeout"] = int(timeout.Seconds())
		options = append([]rpc.CallOption{rpc.WithTimeout(timeout + 5*time.Second)}, options...)
	}

	response, err := client.Call(ctx, agentShell, "execute", []string{node}, args, options...)
	if err != nil {
		return result, err
	}
	reply, ok := response.Response(node)
	if !ok {
		return result, fmt.Errorf("no reply from node %s", node)
	}
	if err := mapstructure.WeakDecode(reply.Data, &result); err != nil {
		return result, fmt.Errorf("decode command result: %w", err)
	}
	if result.ExitCode != 0 {
		return result, fmt.Errorf("command '%s' exited with code %d: %s", cmd, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return result, nil
}

// File is one file written on a node by the upload agent.
type File struct {
	Path           string `mapstructure:"dst" validate:"required"`
	Source         string `mapstructure:"src"`
	Data           string `mapstructure:"data"`
	Permissions    string `mapstructure:"permissions"`
	DirPermissions string `mapstructure:"dir_permissions"`
	UserOwner      string `mapstructure:"user_owner"`
	GroupOwner     string `mapstructure:"group_owner"`
	Overwrite      bool   `mapstructure:"overwrite"`
}

func (f File) withDefaults() File {
	if f.Permissions == "" {
		f.Permissions = "0644"
	}
	if f.DirPermissions == "" {
		f.DirPermissions = "0755"
	}
	if f.UserOwner == "" {
		f.UserOwner = "root"
	}
	if f.GroupOwner == "" {
		f.GroupOwner = "root"
	}
	return f
}

var encoder = lo.Must(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)))

// upload writes file on node. Large contents are sent zstd-compressed.
func upload(ctx context.Context, client *rpc.Client, node string, file File, compress bool, timeout time.Duration) error {
	file = file.withDefaults()
	args := map[string]any{
		"path":            file.Path,
		"content":         file.Data,
		"overwrite":       file.Overwrite,
		"parents":         true,
		"permissions":     file.Permissions,
		"dir_permissions": file.DirPermissions,
		"user_owner":      file.UserOwner,
		"group_owner":     file.GroupOwner,
	}
	if compress {
		args["content"] = base64.StdEncoding.EncodeToString(encoder.EncodeAll([]byte(file.Data), nil))
		args["content_encoding"] = ContentEncodingZstd
	}

	var options []rpc.CallOption
	if timeout > 0 {
		options = append(options, rpc.WithTimeout(timeout))
	}
	if _, err := client.Call(ctx, agentUpload, "upload", []string{node}, args, options...); err != nil {
		return fmt.Errorf("upload %s: %w", file.Path, err)
	}
	return nil
}

// DecodeContent reverses the encoding applied by upload.
func DecodeContent(content, encoding string) ([]byte, error) {
	if encoding != ContentEncodingZstd {
		return []byte(content), nil
	}
	compressed, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(compressed, nil)
}
