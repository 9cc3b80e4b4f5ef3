package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gammadia/fleet/rpc"
	"github.com/gammadia/fleet/rpc/rpctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPuppetSuccessfulRun(t *testing.T) {
	registry, transport := newTestRegistry()
	puppet := &fakePuppet{}
	puppet.install(transport)

	job, err := registry.New(newTestTask("puppet", map[string]any{"puppet_manifest": "/etc/puppet/site.pp"}))
	require.NoError(t, err)

	assert.Equal(t, StatusRunning, job.Run(context.Background()))
	assert.Equal(t, StatusRunning, job.Status(context.Background()))
	assert.Equal(t, StatusSuccessful, job.Status(context.Background()))
	assert.Equal(t, "/etc/puppet/site.pp", puppet.manifest)
	assert.Equal(t, "stopped", job.Summary(context.Background())["status"])
}

func TestPuppetRetriesFailedRun(t *testing.T) {
	registry, transport := newTestRegistry()
	puppet := &fakePuppet{failures: []int{2, 0}}
	puppet.install(transport)

	job, err := registry.New(newTestTask("puppet", map[string]any{"puppet_manifest": "site.pp", "retries": 1}))
	require.NoError(t, err)

	job.Run(context.Background())
	assert.Equal(t, StatusSuccessful, waitForStatus(t, job))
	assert.Equal(t, 2, puppet.runs)
}

func TestPuppetFailsWhenRetriesExhausted(t *testing.T) {
	registry, transport := newTestRegistry()
	puppet := &fakePuppet{failures: []int{1, 1}}
	puppet.install(transport)

	job, err := registry.New(newTestTask("puppet", map[string]any{"puppet_manifest": "site.pp", "retries": 1}))
	require.NoError(t, err)

	job.Run(context.Background())
	assert.Equal(t, StatusFailed, waitForStatus(t, job))
	assert.Equal(t, 2, puppet.runs)
}

func TestPuppetIgnoresRunFinishedBeforeDispatch(t *testing.T) {
	registry, transport := newTestRegistry()
	transport.Handle("puppetd", "runonce", rpctest.Reply(nil))
	previous := map[string]any{
		"status":    "stopped",
		"time":      map[string]any{"last_run": float64(time.Now().Unix())},
		"resources": map[string]any{"failed": float64(0)},
	}
	transport.Handle("puppetd", "last_run_summary", rpctest.Reply(previous))

	job, err := registry.New(newTestTask("puppet", map[string]any{"puppet_manifest": "site.pp"}))
	require.NoError(t, err)

	require.Equal(t, StatusRunning, job.Run(context.Background()))
	assert.Equal(t, StatusRunning, job.Status(context.Background()))
	assert.Equal(t, StatusRunning, job.Status(context.Background()))
}

func TestPuppetUnreachableNodeFails(t *testing.T) {
	registry, transport := newTestRegistry()
	(&fakePuppet{}).install(transport)

	job, err := registry.New(newTestTask("puppet", map[string]any{"puppet_manifest": "site.pp"}))
	require.NoError(t, err)

	require.Equal(t, StatusRunning, job.Run(context.Background()))
	transport.SetOffline("1")
	assert.Equal(t, StatusFailed, job.Status(context.Background()))
}

func TestShellRendersManifest(t *testing.T) {
	registry, transport := newTestRegistry()
	puppet := &fakePuppet{}
	puppet.install(transport)

	uploads := map[string]string{}
	transport.Handle("uploadfile", "upload", func(node string, args map[string]any) rpc.Response {
		uploads[args["path"].(string)] = args["content"].(string)
		return rpc.Response{}
	})

	job, err := registry.New(newTestTask("shell", map[string]any{"cmd": "echo 'hello'", "cwd": "/tmp", "retries": 2}))
	require.NoError(t, err)
	job.Run(context.Background())
	assert.Equal(t, StatusSuccessful, waitForStatus(t, job))

	script := uploads["/etc/puppet/shell_manifests/task_command.sh"]
	assert.Equal(t, "#!/bin/bash\necho 'hello'\n", script)

	manifest := uploads["/etc/puppet/shell_manifests/task_manifest.pp"]
	assert.Contains(t, manifest, "notice('MODULAR: task')")
	assert.Contains(t, manifest, "exec { 'task_shell':")
	assert.Contains(t, manifest, "command   => '/bin/bash /etc/puppet/shell_manifests/task_command.sh',")
	assert.Contains(t, manifest, "tries     => 3,")
	assert.Contains(t, manifest, "cwd       => '/tmp',")
	assert.Contains(t, manifest, "timeout   => 300,")
	assert.Equal(t, "/etc/puppet/shell_manifests/task_manifest.pp", puppet.manifest)
}

func TestShellUploadFailureFailsDispatch(t *testing.T) {
	registry, transport := newTestRegistry()
	transport.Handle("uploadfile", "upload", rpctest.Fail(1, "read-only file system"))

	job, err := registry.New(newTestTask("shell", map[string]any{"cmd": "true"}))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Run(context.Background()))
	assert.Contains(t, job.Failure(), "read-only file system")
	assert.Empty(t, transport.Calls("puppetd.runonce"))
}

func TestSyncCommand(t *testing.T) {
	cmd, err := render("rsync", rsyncCommand{Src: "rsync://10.0.0.2/puppet/", Dst: "/etc/puppet modules", Options: []string{"--exclude=*.swp"}})
	require.NoError(t, err)
	assert.Equal(t, "rsync -c -r --delete '--exclude=*.swp' rsync://10.0.0.2/puppet/ '/etc/puppet modules'", cmd)
}

func TestCobblerSync(t *testing.T) {
	registry, transport := newTestRegistry()
	transport.Handle("execute_shell_command", "execute", func(node string, args map[string]any) rpc.Response {
		return rpc.Response{Data: map[string]any{"stdout": args["cmd"], "exit_code": 0}}
	})

	job, err := registry.New(newTestTask("cobbler_sync", nil))
	require.NoError(t, err)
	job.Run(context.Background())
	assert.Equal(t, StatusSuccessful, waitForStatus(t, job))
	assert.Equal(t, "cobbler sync", job.Summary(context.Background())["stdout"])
}

func TestCommandNonZeroExitFails(t *testing.T) {
	registry, transport := newTestRegistry()
	transport.Handle("execute_shell_command", "execute", rpctest.Reply(map[string]any{"exit_code": 1, "stderr": "cobbler: not found"}))

	job, err := registry.New(newTestTask("cobbler_sync", nil))
	require.NoError(t, err)
	job.Run(context.Background())
	assert.Equal(t, StatusFailed, waitForStatus(t, job))
	assert.Contains(t, job.Summary(context.Background())["error"], "cobbler: not found")
}

func TestUploadFile(t *testing.T) {
	registry, transport := newTestRegistry()
	transport.Handle("uploadfile", "upload", rpctest.Reply(nil))

	job, err := registry.New(newTestTask("upload_file", map[string]any{"path": "/etc/hiera/astute.yaml", "data": "uid: 1"}))
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, job.Run(context.Background()))
	assert.Equal(t, StatusSuccessful, job.Status(context.Background()))

	calls := transport.Calls("uploadfile.upload")
	require.Len(t, calls, 1)
	assert.Equal(t, "uid: 1", calls[0].Args["content"])
	assert.Equal(t, "0644", calls[0].Args["permissions"])
	assert.Equal(t, true, calls[0].Args["overwrite"])
}

func TestUploadFilesInBackground(t *testing.T) {
	registry, transport := newTestRegistry()

	release := make(chan struct{})
	var received atomic.Int32
	contents := map[string]string{}
	transport.Handle("uploadfile", "upload", func(node string, args map[string]any) rpc.Response {
		<-release
		content, err := DecodeContent(args["content"].(string), args["content_encoding"].(string))
		if err != nil {
			return rpc.Response{StatusCode: 1, StatusMsg: err.Error()}
		}
		contents[args["path"].(string)] = string(content)
		received.Add(1)
		return rpc.Response{}
	})

	job, err := registry.New(newTestTask("upload_files", map[string]any{"files": []any{
		map[string]any{"dst": "/etc/a", "data": strings.Repeat("a", 4096)},
		map[string]any{"dst": "/etc/b", "data": "b"},
	}}))
	require.NoError(t, err)

	job.Run(context.Background())
	assert.Equal(t, StatusRunning, job.Status(context.Background()), "status must not block on the upload")

	close(release)
	assert.Equal(t, StatusSuccessful, waitForStatus(t, job))
	assert.EqualValues(t, 2, received.Load())
	assert.Equal(t, strings.Repeat("a", 4096), contents["/etc/a"])
	assert.Equal(t, "b", contents["/etc/b"])
	assert.Equal(t, []string{"/etc/a", "/etc/b"}, job.Summary(context.Background())["uploaded"])
}

func TestCopyFiles(t *testing.T) {
	registry, transport := newTestRegistry()
	transport.Handle("uploadfile", "upload", rpctest.Reply(nil))

	src := filepath.Join(t.TempDir(), "id_rsa.pub")
	require.NoError(t, os.WriteFile(src, []byte("ssh-ed25519 AAAA"), 0o600))

	job, err := registry.New(newTestTask("copy_files", map[string]any{
		"files":       []any{map[string]any{"src": src, "dst": "/root/.ssh/authorized_keys"}},
		"permissions": "0600",
	}))
	require.NoError(t, err)
	job.Run(context.Background())
	assert.Equal(t, StatusSuccessful, waitForStatus(t, job))

	calls := transport.Calls("uploadfile.upload")
	require.Len(t, calls, 1)
	assert.Equal(t, "0600", calls[0].Args["permissions"])
	content, err := DecodeContent(calls[0].Args["content"].(string), ContentEncodingZstd)
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519 AAAA", string(content))
}

func TestCopyFilesMissingSourceFails(t *testing.T) {
	registry, transport := newTestRegistry()
	transport.Handle("uploadfile", "upload", rpctest.Reply(nil))

	job, err := registry.New(newTestTask("copy_files", map[string]any{
		"files": []any{map[string]any{"src": filepath.Join(t.TempDir(), "missing"), "dst": "/etc/x"}},
	}))
	require.NoError(t, err)
	job.Run(context.Background())
	assert.Equal(t, StatusFailed, waitForStatus(t, job))
	assert.Empty(t, transport.Calls("uploadfile.upload"))
}

func TestReboot(t *testing.T) {
	registry, transport := newTestRegistry()

	var rebooted atomic.Bool
	transport.Handle("execute_shell_command", "execute", func(node string, args map[string]any) rpc.Response {
		if args["cmd"] == rebootCommand {
			rebooted.Store(true)
			return rpc.Response{}
		}
		return rpc.Response{Data: map[string]any{"stdout": map[bool]string{false: "1700000000", true: "1700000500"}[rebooted.Load()]}}
	})

	job, err := registry.New(newTestTask("reboot", map[string]any{"timeout": 60}))
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, job.Run(context.Background()))
	assert.True(t, rebooted.Load())
	assert.Equal(t, StatusSuccessful, job.Status(context.Background()))
	assert.Equal(t, "1700000000", job.Summary(context.Background())["previous_boot_time"])
}

func TestRebootWaitsWhileNodeIsDown(t *testing.T) {
	registry, transport := newTestRegistry()
	transport.Handle("execute_shell_command", "execute", rpctest.Reply(map[string]any{"stdout": "1700000000"}))

	job, err := registry.New(newTestTask("reboot", nil))
	require.NoError(t, err)
	job.Run(context.Background())

	transport.SetOffline("1")
	assert.Equal(t, StatusRunning, job.Status(context.Background()))

	transport.SetOnline("1")
	assert.Equal(t, StatusRunning, job.Status(context.Background()), "same boot time means the node has not rebooted yet")
}
