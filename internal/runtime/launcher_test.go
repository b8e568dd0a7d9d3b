package runtime

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastsurvey/slipway/internal/engine"
)

// seedArtifact commits a runnable image into the fake: declared port, baked
// start command.
func seedArtifact(t *testing.T, fake *engine.Fake) string {
	t.Helper()

	ctx := context.Background()
	baseID, err := fake.PullImage(ctx, "python@sha256:test")
	require.NoError(t, err)

	containerID, err := fake.CreateContainer(ctx, engine.CreateOptions{Image: baseID, Cmd: []string{"true"}})
	require.NoError(t, err)

	imageID, err := fake.CommitContainer(ctx, containerID, engine.CommitOptions{Changes: []string{
		"EXPOSE 8000/tcp",
		`CMD ["uvicorn","app.main:app","--host","0.0.0.0","--port","8000"]`,
	}})
	require.NoError(t, err)
	require.NoError(t, fake.RemoveContainer(ctx, containerID))

	return imageID
}

func TestLaunchPublishesDeclaredPort(t *testing.T) {
	fake := engine.NewFake()
	imageID := seedArtifact(t, fake)
	launcher := NewLauncher(fake, zerolog.Nop())

	instance, err := launcher.Launch(context.Background(), LaunchConfig{ImageRef: imageID})
	require.NoError(t, err)

	hostPort, ok := instance.PublishedPort("8000/tcp")
	require.True(t, ok)
	assert.NotEmpty(t, hostPort, "ephemeral host port is assigned")
	assert.Equal(t, 1, fake.LiveContainers())
	assert.Equal(t, 1, fake.ExecutionCount("uvicorn app.main:app"), "the baked command starts the app")

	require.NoError(t, launcher.Stop(context.Background(), instance))
	assert.Zero(t, fake.LiveContainers())
}

func TestLaunchFixedHostPort(t *testing.T) {
	fake := engine.NewFake()
	imageID := seedArtifact(t, fake)
	launcher := NewLauncher(fake, zerolog.Nop())

	instance, err := launcher.Launch(context.Background(), LaunchConfig{ImageRef: imageID, HostPort: "8080"})
	require.NoError(t, err)

	hostPort, ok := instance.PublishedPort("8000/tcp")
	require.True(t, ok)
	assert.Equal(t, "8080", hostPort)
}

func TestLaunchRejectsImageWithoutCommand(t *testing.T) {
	fake := engine.NewFake()
	ctx := context.Background()
	baseID, err := fake.PullImage(ctx, "python@sha256:test")
	require.NoError(t, err)

	launcher := NewLauncher(fake, zerolog.Nop())
	_, err = launcher.Launch(ctx, LaunchConfig{ImageRef: baseID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no start command")
	assert.Zero(t, fake.LiveContainers(), "nothing is left behind")
}

func TestLaunchUnknownImage(t *testing.T) {
	fake := engine.NewFake()
	launcher := NewLauncher(fake, zerolog.Nop())

	_, err := launcher.Launch(context.Background(), LaunchConfig{ImageRef: "sha256:missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inspect image")
}

func TestWaitReturnsExitCode(t *testing.T) {
	fake := engine.NewFake()
	fake.FailCommands["uvicorn"] = 3
	imageID := seedArtifact(t, fake)
	launcher := NewLauncher(fake, zerolog.Nop())

	instance, err := launcher.Launch(context.Background(), LaunchConfig{ImageRef: imageID})
	require.NoError(t, err)

	code, err := launcher.Wait(context.Background(), instance)
	require.NoError(t, err)
	assert.Equal(t, int64(3), code)
}

func TestLogsStreamOutput(t *testing.T) {
	fake := engine.NewFake()
	fake.Logs["uvicorn app.main:app --host 0.0.0.0 --port 8000"] = "INFO: Application startup complete."
	imageID := seedArtifact(t, fake)
	launcher := NewLauncher(fake, zerolog.Nop())

	instance, err := launcher.Launch(context.Background(), LaunchConfig{ImageRef: imageID})
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	require.NoError(t, launcher.Logs(context.Background(), instance, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "startup complete")
}
