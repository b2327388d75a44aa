// Package imap uploads archive messages to an IMAP mailbox.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mbox-index/model"
	"github.com/dhcgn/mbox-index/state"
)

var (
	ErrMissingHash = errors.New("message hash is empty")
	ErrClosed      = errors.New("uploader is closed")
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string
	DryRun             bool
}

// Result says what Upload did with one message.
type Result int

const (
	Uploaded Result = iota
	Skipped
	DryRun
)

func (r Result) String() string {
	switch r {
	case Uploaded:
		return "uploaded"
	case Skipped:
		return "skipped"
	case DryRun:
		return "dry-run"
	default:
		return "unknown"
	}
}

// Counts tallies Upload results.
type Counts struct {
	Uploaded int
	Skipped  int
	DryRun   int
}

// mailbox is the slice of an IMAP session the uploader needs.
type mailbox interface {
	Append(folder string, raw []byte, received time.Time) error
	Close() error
}

type dialFunc func(ctx context.Context) (mailbox, error)

// Uploader appends messages one at a time over a single lazily dialed
// connection. Messages already recorded in the tracker for the target folder
// are skipped.
type Uploader struct {
	opts    Options
	tracker state.Tracker
	logger  *slog.Logger
	dial    dialFunc

	conn   mailbox
	counts Counts
	closed bool
}

func NewUploader(opts Options, tracker state.Tracker, logger *slog.Logger) (*Uploader, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker must not be nil")
	}
	u := &Uploader{
		opts:    opts,
		tracker: tracker,
		logger:  logger,
	}
	u.dial = u.dialIMAP
	return u, nil
}

// Upload sends msg.Raw, which must not carry the mbox envelope line.
func (u *Uploader) Upload(ctx context.Context, msg model.Message) (Result, error) {
	if u.closed {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if msg.Hash == "" {
		return 0, fmt.Errorf("message %d: %w", msg.Number, ErrMissingHash)
	}

	target := u.TargetFolder()
	if u.tracker.AlreadyExported(target, msg.Hash) {
		u.counts.Skipped++
		if u.logger != nil {
			u.logger.Debug("already exported", "message", msg.Number, "messageID", msg.ID, "target", target)
		}
		return Skipped, nil
	}

	if u.opts.DryRun {
		if err := u.tracker.MarkExported(target, msg.Hash, msg.ID); err != nil {
			return 0, err
		}
		u.counts.DryRun++
		if u.logger != nil {
			u.logger.Debug("dry-run upload", "message", msg.Number, "messageID", msg.ID, "target", target, "hash", msg.Hash)
		}
		return DryRun, nil
	}

	if u.conn == nil {
		conn, err := u.dial(ctx)
		if err != nil {
			return 0, err
		}
		u.conn = conn
	}

	if err := u.conn.Append(target, msg.Raw, msg.ReceivedAt); err != nil {
		return 0, fmt.Errorf("upload message %d (%s): %w", msg.Number, msg.ID, err)
	}
	if err := u.tracker.MarkExported(target, msg.Hash, msg.ID); err != nil {
		return 0, err
	}

	u.counts.Uploaded++
	if u.logger != nil {
		u.logger.Debug("uploaded message", "message", msg.Number, "messageID", msg.ID, "target", target, "hash", msg.Hash)
	}
	return Uploaded, nil
}

func (u *Uploader) Counts() Counts {
	return u.counts
}

// Close logs out of the server if a connection was opened.
func (u *Uploader) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}

func (u *Uploader) TargetFolder() string {
	if u.opts.TargetFolder == "" {
		return "INBOX"
	}
	return u.opts.TargetFolder
}

func (u *Uploader) dialIMAP(ctx context.Context) (mailbox, error) {
	address := net.JoinHostPort(u.opts.Host, strconv.Itoa(u.opts.Port))
	options := &imapclient.Options{}

	if u.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         u.opts.Host,
			InsecureSkipVerify: u.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if u.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(u.opts.Username, u.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	if err := u.ensureMailbox(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	if u.logger != nil {
		u.logger.Debug("imap connection established", "address", address, "user", u.opts.Username, "target", u.TargetFolder(), "tls", u.opts.UseTLS)
	}

	return &session{
		client:    client,
		logger:    u.logger,
		stopClose: context.AfterFunc(ctx, func() { _ = client.Close() }),
		ctx:       ctx,
	}, nil
}

func (u *Uploader) ensureMailbox(client *imapclient.Client) error {
	target := u.TargetFolder()
	if err := client.Create(target, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			if u.logger != nil {
				u.logger.Debug("imap mailbox already exists", "mailbox", target)
			}
			return nil
		}
		return fmt.Errorf("ensure mailbox %s: %w", target, err)
	}

	if u.logger != nil {
		u.logger.Info("imap mailbox created", "mailbox", target)
	}
	return nil
}

// session adapts an imapclient.Client to mailbox.
type session struct {
	client    *imapclient.Client
	logger    *slog.Logger
	stopClose func() bool
	ctx       context.Context
}

func (s *session) Append(folder string, raw []byte, received time.Time) error {
	var opts *imapv2.AppendOptions
	if !received.IsZero() {
		opts = &imapv2.AppendOptions{Time: received}
	}

	cmd := s.client.Append(folder, int64(len(raw)), opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	s.stopClose()
	if s.ctx.Err() == nil {
		if err := s.client.Logout().Wait(); err != nil && s.logger != nil {
			s.logger.Warn("imap logout failed", "err", err)
		}
	}
	if err := s.client.Close(); err != nil && s.logger != nil {
		s.logger.Debug("imap connection closed", "err", err)
	}
	return nil
}
