// Package ftptest provides an in-memory FTP server for tests, in the spirit of
// net/http/httptest. It speaks the subset of RFC 959 the sync engine uses:
// USER, PASS, TYPE, PWD, CWD, MKD, NLST, SIZE, STOR, EPSV, PASV and QUIT.
package ftptest

import (
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const dataTimeout = 5 * time.Second

type failure struct {
	code int
	msg  string
}

// Server is an FTP server backed by an in-memory tree rooted at "/".
type Server struct {
	User     string
	Password string

	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	dirs     map[string]bool
	files    map[string][]byte
	counts   map[string]int
	failures map[string]failure
	conns    map[net.Conn]struct{}
	closed   bool
}

// NewServer starts a server on a loopback port accepting user/password.
func NewServer(user, password string) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("ftptest: listen: %w", err)
	}

	s := &Server{
		User:     user,
		Password: password,
		ln:       ln,
		dirs:     map[string]bool{"/": true},
		files:    make(map[string][]byte),
		counts:   make(map[string]int),
		failures: make(map[string]failure),
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the control connection address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Host returns the listening host.
func (s *Server) Host() string { return s.ln.Addr().(*net.TCPAddr).IP.String() }

// Port returns the listening port.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// Close stops accepting, drops open sessions and waits for them to end.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.ln.Close()
	s.wg.Wait()
}

// MkdirAll creates p and its parents.
func (s *Server) MkdirAll(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for dir := path.Clean("/" + p); ; dir = path.Dir(dir) {
		s.dirs[dir] = true
		if dir == "/" {
			return
		}
	}
}

// WriteFile stores data at p, creating parent directories.
func (s *Server) WriteFile(p string, data []byte) {
	p = path.Clean("/" + p)
	s.MkdirAll(path.Dir(p))
	s.mu.Lock()
	s.files[p] = append([]byte(nil), data...)
	s.mu.Unlock()
}

// File returns the content stored at p.
func (s *Server) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path.Clean("/"+p)]
	return data, ok
}

// IsDir reports whether p is a directory.
func (s *Server) IsDir(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[path.Clean("/"+p)]
}

// Dirs returns every directory path, sorted.
func (s *Server) Dirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	dirs := make([]string, 0, len(s.dirs))
	for d := range s.dirs {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// Count returns how many times cmd was received across all sessions.
func (s *Server) Count(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[strings.ToUpper(cmd)]
}

// ResetCounts zeroes the command counters.
func (s *Server) ResetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int)
}

// Fail makes every later cmd answer with code and msg until ClearFailures.
func (s *Server) Fail(cmd string, code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[strings.ToUpper(cmd)] = failure{code: code, msg: msg}
}

// ClearFailures removes all injected failures.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]failure)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			newSession(s, conn).serve()
		}()
	}
}

// session is the state of one control connection.
type session struct {
	srv      *Server
	tp       *textproto.Conn
	user     string
	loggedIn bool
	cwd      string
	dataLn   net.Listener
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{srv: srv, tp: textproto.NewConn(conn), cwd: "/"}
}

func (c *session) reply(code int, format string, args ...any) {
	_ = c.tp.PrintfLine("%d %s", code, fmt.Sprintf(format, args...))
}

func (c *session) resolve(arg string) string {
	if arg == "" {
		return c.cwd
	}
	if strings.HasPrefix(arg, "/") {
		return path.Clean(arg)
	}
	return path.Join(c.cwd, arg)
}

func (c *session) serve() {
	defer c.closeData()
	c.reply(220, "ftptest ready")

	for {
		line, err := c.tp.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		cmd = strings.ToUpper(cmd)

		c.srv.mu.Lock()
		c.srv.counts[cmd]++
		fail, injected := c.srv.failures[cmd]
		c.srv.mu.Unlock()

		if injected {
			c.closeData()
			c.reply(fail.code, "%s", fail.msg)
			continue
		}

		switch cmd {
		case "QUIT":
			c.reply(221, "Bye")
			return
		case "USER":
			c.user = arg
			c.reply(331, "Password required")
			continue
		case "PASS":
			if c.user == c.srv.User && arg == c.srv.Password {
				c.loggedIn = true
				c.reply(230, "Logged in")
			} else {
				c.reply(530, "Login incorrect")
			}
			continue
		case "FEAT":
			c.reply(502, "Command not implemented")
			continue
		}

		if !c.loggedIn {
			c.reply(530, "Not logged in")
			continue
		}
		c.handle(cmd, arg)
	}
}

func (c *session) handle(cmd, arg string) {
	s := c.srv
	switch cmd {
	case "TYPE", "OPTS", "NOOP":
		c.reply(200, "OK")

	case "PWD":
		c.reply(257, "%q is the current directory", c.cwd)

	case "CWD":
		p := c.resolve(arg)
		s.mu.Lock()
		ok := s.dirs[p]
		s.mu.Unlock()
		if !ok {
			c.reply(550, "%s: No such file or directory", arg)
			return
		}
		c.cwd = p
		c.reply(250, "Directory changed to %s", p)

	case "CDUP":
		c.cwd = path.Dir(c.cwd)
		c.reply(250, "Directory changed to %s", c.cwd)

	case "MKD":
		p := c.resolve(arg)
		s.mu.Lock()
		_, isFile := s.files[p]
		switch {
		case s.dirs[p] || isFile:
			s.mu.Unlock()
			c.reply(550, "%s: Directory already exists", arg)
		case !s.dirs[path.Dir(p)]:
			s.mu.Unlock()
			c.reply(550, "%s: No such file or directory", arg)
		default:
			s.dirs[p] = true
			s.mu.Unlock()
			c.reply(257, "%q created", p)
		}

	case "SIZE":
		p := c.resolve(arg)
		s.mu.Lock()
		data, ok := s.files[p]
		s.mu.Unlock()
		if !ok {
			c.reply(550, "%s: No such file", arg)
			return
		}
		c.reply(213, "%d", len(data))

	case "EPSV":
		port, err := c.openData()
		if err != nil {
			c.reply(425, "Can't open data connection")
			return
		}
		c.reply(229, "Entering Extended Passive Mode (|||%d|)", port)

	case "PASV":
		port, err := c.openData()
		if err != nil {
			c.reply(425, "Can't open data connection")
			return
		}
		c.reply(227, "Entering Passive Mode (127,0,0,1,%d,%d)", port>>8, port&0xff)

	case "NLST":
		c.nlst(arg)

	case "STOR":
		c.stor(arg)

	default:
		c.reply(502, "Command not implemented")
	}
}

func (c *session) openData() (int, error) {
	c.closeData()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	c.dataLn = ln
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (c *session) closeData() {
	if c.dataLn != nil {
		c.dataLn.Close()
		c.dataLn = nil
	}
}

func (c *session) acceptData() (net.Conn, error) {
	ln := c.dataLn
	c.dataLn = nil
	defer ln.Close()
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(dataTimeout))
	}
	return ln.Accept()
}

func (c *session) nlst(arg string) {
	if c.dataLn == nil {
		c.reply(425, "Use PASV or EPSV first")
		return
	}
	dir := c.resolve(arg)

	s := c.srv
	s.mu.Lock()
	if !s.dirs[dir] {
		s.mu.Unlock()
		c.closeData()
		c.reply(550, "%s: No such file or directory", arg)
		return
	}
	var names []string
	for d := range s.dirs {
		if d != "/" && path.Dir(d) == dir {
			names = append(names, path.Base(d))
		}
	}
	for f := range s.files {
		if path.Dir(f) == dir {
			names = append(names, path.Base(f))
		}
	}
	s.mu.Unlock()
	sort.Strings(names)

	c.reply(150, "Opening data connection for file list")
	conn, err := c.acceptData()
	if err != nil {
		c.reply(425, "Can't open data connection")
		return
	}
	for _, name := range names {
		_, _ = io.WriteString(conn, name+"\r\n")
	}
	conn.Close()
	c.reply(226, "Transfer complete")
}

func (c *session) stor(arg string) {
	if c.dataLn == nil {
		c.reply(425, "Use PASV or EPSV first")
		return
	}
	p := c.resolve(arg)

	s := c.srv
	s.mu.Lock()
	parentOK := s.dirs[path.Dir(p)]
	isDir := s.dirs[p]
	s.mu.Unlock()
	if !parentOK || isDir {
		c.closeData()
		c.reply(553, "%s: Could not create file", arg)
		return
	}

	c.reply(150, "Ok to send data")
	conn, err := c.acceptData()
	if err != nil {
		c.reply(425, "Can't open data connection")
		return
	}
	data, err := io.ReadAll(conn)
	conn.Close()
	if err != nil {
		c.reply(426, "Connection closed; transfer aborted")
		return
	}

	s.mu.Lock()
	s.files[p] = data
	s.mu.Unlock()
	c.reply(226, "Transfer complete (%s bytes)", strconv.Itoa(len(data)))
}
