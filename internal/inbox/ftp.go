package inbox

import (
	"context"
	"io"
	"net"
	"net/url"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPConfig locates an FTP inbox directory.
type FTPConfig struct {
	Addr     string
	User     string
	Password string
	Dir      string
	Timeout  time.Duration
}

// ParseFTPURL reads ftp://[user[:password]@]host[:port][/dir] into a config.
// The port defaults to 21 and the directory to "/".
func ParseFTPURL(rawURL string) (FTPConfig, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return FTPConfig{}, eris.Wrap(err, "inbox: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return FTPConfig{}, eris.Errorf("inbox: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return FTPConfig{}, eris.New("inbox: empty host in ftp url")
	}

	cfg := FTPConfig{Addr: u.Host, Dir: u.Path}
	if _, _, splitErr := net.SplitHostPort(cfg.Addr); splitErr != nil {
		cfg.Addr = net.JoinHostPort(cfg.Addr, "21")
	}
	if cfg.Dir == "" {
		cfg.Dir = "/"
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	return cfg, nil
}

// ftpConn is the part of *ftp.ServerConn the source uses.
type ftpConn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(p string) (io.ReadCloser, error) {
	resp, err := c.ServerConn.Retr(p)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FTPSource reads documents from one directory on an FTP server. The
// control connection is shared, so transfers are serialized.
type FTPSource struct {
	mu   sync.Mutex
	conn ftpConn
	dir  string
}

// DialFTP connects and logs in; an empty user logs in anonymously.
func DialFTP(ctx context.Context, cfg FTPConfig) (*FTPSource, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Dir == "" {
		cfg.Dir = "/"
	}
	user, pass := cfg.User, cfg.Password
	if user == "" {
		user, pass = "anonymous", "anonymous@"
	}

	zap.L().Debug("ftp: connecting", zap.String("addr", cfg.Addr), zap.String("dir", cfg.Dir))

	conn, err := ftp.Dial(cfg.Addr, ftp.DialWithTimeout(cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "inbox: ftp dial")
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "inbox: ftp login")
	}
	return newFTPSource(serverConn{conn}, cfg.Dir), nil
}

func newFTPSource(conn ftpConn, dir string) *FTPSource {
	return &FTPSource{conn: conn, dir: dir}
}

// List implements Source.
func (s *FTPSource) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	entries, err := s.conn.List(s.dir)
	s.mu.Unlock()
	if err != nil {
		return nil, eris.Wrapf(err, "inbox: ftp list %s", s.dir)
	}

	var names []string
	for _, e := range entries {
		if e == nil || e.Type != ftp.EntryTypeFile {
			continue
		}
		if _, ok := InputType(e.Name); ok {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Fetch implements Source.
func (s *FTPSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := path.Join(s.dir, path.Base(name))

	s.mu.Lock()
	defer s.mu.Unlock()
	rc, err := s.conn.Retr(p)
	if err != nil {
		return nil, eris.Wrapf(err, "inbox: ftp retrieve %s", p)
	}
	data, err := io.ReadAll(rc)
	closeErr := rc.Close()
	if err != nil {
		return nil, eris.Wrapf(err, "inbox: ftp read %s", p)
	}
	if closeErr != nil {
		return nil, eris.Wrapf(closeErr, "inbox: ftp close %s", p)
	}
	return data, nil
}

// Close quits the FTP session.
func (s *FTPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.Quit(); err != nil {
		return eris.Wrap(err, "inbox: ftp quit")
	}
	return nil
}
