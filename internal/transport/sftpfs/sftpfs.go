// Package sftpfs reads tap input files from an SFTP server.
package sftpfs

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/johndauphine/sftp-csv-tap/internal/logging"
	"github.com/johndauphine/sftp-csv-tap/internal/transport"
)

// Config holds connection settings.
type Config struct {
	Host                 string
	Port                 int
	Username             string
	Password             string
	PrivateKeyFile       string
	PrivateKeyPassphrase string
	KnownHostsFile       string
	RootDir              string
	Timeout              time.Duration
	MaxRetries           int
}

// Transport is an SFTP-backed transport.Transport.
type Transport struct {
	ssh    *ssh.Client
	client *sftp.Client
	root   string
}

var _ transport.Transport = (*Transport)(nil)

// Dial connects and authenticates, retrying with exponential backoff.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	clientCfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var sshClient *ssh.Client
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			logging.Warn("Retry %d/%d connecting to %s after %v (error: %v)", attempt, maxRetries, addr, backoff, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		sshClient, err = dialSSH(ctx, addr, clientCfg)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to sftp server %s: %w", addr, err)
	}

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("starting sftp subsystem on %s: %w", addr, err)
	}
	logging.Info("Connected to sftp://%s@%s", cfg.Username, addr)
	return &Transport{ssh: sshClient, client: client, root: cfg.RootDir}, nil
}

// NewWithClient wraps an existing SFTP client.
func NewWithClient(client *sftp.Client, root string) *Transport {
	return &Transport{client: client, root: root}
}

func dialSSH(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func clientConfig(cfg Config) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.PrivateKeyFile != "" {
		keyBytes, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read SSH key %s: %w", cfg.PrivateKeyFile, err)
		}
		var signer ssh.Signer
		if cfg.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(cfg.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("parse SSH key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", cfg.KnownHostsFile, err)
		}
		hostKey = cb
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

// ListFiles walks the directory tree under prefix. A missing directory
// yields no files.
func (t *Transport) ListFiles(ctx context.Context, prefix, pattern string) ([]transport.File, error) {
	dir := transport.JoinPrefix(t.root, prefix)

	var files []transport.File
	walker := t.client.Walk(dir)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := walker.Err(); err != nil {
			if walker.Path() == dir && os.IsNotExist(err) {
				logging.Warn("Search directory %s does not exist", dir)
				return nil, nil
			}
			return nil, fmt.Errorf("listing %s: %w", walker.Path(), err)
		}
		info := walker.Stat()
		if info == nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, transport.File{
			Path:         path.Clean(walker.Path()),
			LastModified: info.ModTime().UTC(),
			Size:         info.Size(),
		})
	}
	return transport.Filter(files, pattern)
}

// Open opens a remote file for reading.
func (t *Transport) Open(ctx context.Context, f transport.File) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := t.client.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	return fh, nil
}

// ShouldSkipCompressed probes gzip files before they are parsed.
func (t *Transport) ShouldSkipCompressed(ctx context.Context, f transport.File) (bool, error) {
	return transport.CheckCompressed(ctx, f, func(ctx context.Context) (io.ReadCloser, error) {
		return t.Open(ctx, f)
	})
}

// Close ends the SFTP session and the SSH connection under it.
func (t *Transport) Close() error {
	err := t.client.Close()
	if t.ssh != nil {
		if cerr := t.ssh.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
