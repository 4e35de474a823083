package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// SSHConfig holds the connection settings for an SFTP fetch.
type SSHConfig struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port, defaulting to 22.
	Port int

	// User is the SSH username.
	User string

	// Password enables password authentication when set.
	Password string

	// PrivateKeyPath enables key authentication when set.
	PrivateKeyPath string

	// KnownHostsPath verifies the host key against the given file.
	// Empty skips verification.
	KnownHostsPath string

	// Timeout bounds the connection attempt, defaulting to 30s.
	Timeout time.Duration
}

func (c SSHConfig) address() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

func (c SSHConfig) clientConfig() (*ssh.ClientConfig, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg := &ssh.ClientConfig{
		User:    c.User,
		Timeout: timeout,
	}

	switch {
	case c.PrivateKeyPath != "":
		keyData, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case c.Password != "":
		cfg.Auth = []ssh.AuthMethod{ssh.Password(c.Password)}
	default:
		return nil, fmt.Errorf("ssh config for %s has no auth method", c.Host)
	}

	if c.KnownHostsPath != "" {
		callback, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		cfg.HostKeyCallback = callback
	} else {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return cfg, nil
}

// SFTPFetcher downloads artifact files and directories over SFTP.
type SFTPFetcher struct {
	cfg    SSHConfig
	logger zerolog.Logger
}

// NewSFTPFetcher creates a fetcher for the given connection settings.
func NewSFTPFetcher(cfg SSHConfig, logger zerolog.Logger) *SFTPFetcher {
	return &SFTPFetcher{cfg: cfg, logger: logger}
}

// Fetch downloads the remote path into localPath. Directories download
// recursively. Connection failures are transient.
func (f *SFTPFetcher) Fetch(ctx context.Context, remotePath, localPath string) error {
	clientConfig, err := f.cfg.clientConfig()
	if err != nil {
		return engine.NewPermanentError("sftp configuration invalid", err).
			WithCode(engine.ErrCodeValidation)
	}

	sshClient, err := ssh.Dial("tcp", f.cfg.address(), clientConfig)
	if err != nil {
		return engine.NewTransientError(
			fmt.Sprintf("connect to %s", f.cfg.address()), err)
	}
	defer sshClient.Close()

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return engine.NewTransientError("open sftp session", err)
	}
	defer sftpClient.Close()

	info, err := sftpClient.Stat(remotePath)
	if err != nil {
		return engine.NewPermanentError(
			fmt.Sprintf("stat remote path %s", remotePath), err)
	}
	if info.IsDir() {
		return f.fetchDir(ctx, sftpClient, remotePath, localPath)
	}
	return f.fetchFile(ctx, sftpClient, remotePath, localPath)
}

func (f *SFTPFetcher) fetchDir(ctx context.Context, client *sftp.Client, remotePath, localPath string) error {
	walker := client.Walk(remotePath)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return engine.NewTransientError("walk remote directory", err)
		}
		relPath, err := filepath.Rel(remotePath, walker.Path())
		if err != nil {
			return err
		}
		targetPath := filepath.Join(localPath, relPath)

		if walker.Stat().IsDir() {
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", targetPath, err)
			}
		} else if err := f.fetchFile(ctx, client, walker.Path(), targetPath); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (f *SFTPFetcher) fetchFile(ctx context.Context, client *sftp.Client, remotePath, localPath string) error {
	started := time.Now()

	remoteFile, err := client.Open(remotePath)
	if err != nil {
		return engine.NewTransientError(
			fmt.Sprintf("open remote file %s", remotePath), err)
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local directory: %w", err)
	}
	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file %s: %w", localPath, err)
	}
	defer localFile.Close()

	written, err := copyWithContext(ctx, localFile, remoteFile)
	if err != nil {
		return engine.NewTransientError(
			fmt.Sprintf("download %s", remotePath), err)
	}

	f.logger.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", written).
		Dur("duration", time.Since(started)).
		Msg("file fetched")
	return nil
}

// Action wraps a fetch as an idempotent action gated on the local path
// already existing.
func (f *SFTPFetcher) Action(remotePath, localPath string) *engine.Action {
	return &engine.Action{
		Name:  "fetch " + remotePath,
		Probe: engine.PathProbe{Path: localPath},
		Body: engine.FuncCommand{
			Label: fmt.Sprintf("sftp %s %s", f.cfg.address(), remotePath),
			Fn: func(ctx context.Context) error {
				return f.Fetch(ctx, remotePath, localPath)
			},
		},
	}
}

// copyWithContext copies in chunks, checking for cancellation between
// reads so a hung transfer can be abandoned.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}
