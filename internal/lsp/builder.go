package lsp

import (
	"fmt"
	"os"
	"os/exec"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// ClientBuilder spawns a language server and wraps it in a Client.
type ClientBuilder struct {
	command      string
	args         []string
	env          []string
	dir          string
	printStderr  bool
	logger       *zap.Logger
	rootURI      protocol.DocumentURI
	maxFrameSize int
}

// NewClientBuilder returns a builder for the server executable at command.
func NewClientBuilder(command string) *ClientBuilder {
	return &ClientBuilder{command: command}
}

// Args sets the server's command-line arguments.
func (b *ClientBuilder) Args(args ...string) *ClientBuilder {
	b.args = args
	return b
}

// Env adds an environment variable on top of the parent's environment.
func (b *ClientBuilder) Env(key, value string) *ClientBuilder {
	b.env = append(b.env, key+"="+value)
	return b
}

// Dir sets the server's working directory.
func (b *ClientBuilder) Dir(dir string) *ClientBuilder {
	b.dir = dir
	return b
}

// PrintStderr forwards the server's stderr to ours instead of discarding it.
func (b *ClientBuilder) PrintStderr() *ClientBuilder {
	b.printStderr = true
	return b
}

// Logger sets the client logger.
func (b *ClientBuilder) Logger(logger *zap.Logger) *ClientBuilder {
	b.logger = logger
	return b
}

// RootURI sets the root URI used by Initialize.
func (b *ClientBuilder) RootURI(u protocol.DocumentURI) *ClientBuilder {
	b.rootURI = u
	return b
}

// MaxFrameSize bounds a single inbound frame.
func (b *ClientBuilder) MaxFrameSize(n int) *ClientBuilder {
	b.maxFrameSize = n
	return b
}

// Build starts the server and returns a client connected to it.
func (b *ClientBuilder) Build() (*Client, error) {
	if b.command == "" {
		return nil, fmt.Errorf("language server command is required")
	}

	cmd := exec.Command(b.command, b.args...)
	cmd.Dir = b.dir
	cmd.Env = append(os.Environ(), b.env...)
	if b.printStderr {
		cmd.Stderr = os.Stderr
	}

	proc, err := StartProcess(cmd)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("started language server", zap.String("command", b.command), zap.Int("pid", proc.Pid()))

	return NewClient(proc, &ClientOptions{
		Logger:       logger,
		RootURI:      b.rootURI,
		MaxFrameSize: b.maxFrameSize,
	}), nil
}
