package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Yua17/tftp/internal/transfer"
)

const prompt = ">>> "

// clearScreen moves the cursor home and erases the display.
const clearScreen = "\033[H\033[2J"

const helpText = `Usage:
	>>> get <file> --- download file from the server
	>>> put <file> --- upload file to the server
	>>> help --------- show this help
	>>> clear -------- clear the screen
	>>> exit --------- leave (quit works too)
`

// Transferer runs one transfer against the server.
type Transferer interface {
	Get(ctx context.Context, filename string, dst io.Writer) (transfer.Result, error)
	Put(ctx context.Context, filename string, src io.Reader) (transfer.Result, error)
}

type Option func(*Shell)

func WithLogger(l *slog.Logger) Option {
	return func(s *Shell) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDir sets the local directory files are read from and written to.
func WithDir(dir string) Option {
	return func(s *Shell) { s.dir = dir }
}

type Shell struct {
	tr  Transferer
	in  io.Reader
	out io.Writer
	dir string
	log *slog.Logger
}

func New(tr Transferer, in io.Reader, out io.Writer, opts ...Option) *Shell {
	s := &Shell{
		tr:  tr,
		in:  in,
		out: out,
		dir: ".",
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads commands until exit, end of input or ctx cancellation. A
// failed transfer is reported and the loop goes on.
func (s *Shell) Run(ctx context.Context) error {
	sc := bufio.NewScanner(s.in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(s.out, prompt)
		if !sc.Scan() {
			fmt.Fprintln(s.out)
			return sc.Err()
		}

		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := strings.ToLower(fields[0]), fields[1:]

		switch cmd {
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprint(s.out, helpText)
		case "clear":
			fmt.Fprint(s.out, clearScreen)
		case "get", "put":
			if len(args) != 1 {
				fmt.Fprintf(s.out, "usage: %s <file>\n", cmd)
				continue
			}
			var (
				res transfer.Result
				err error
			)
			if cmd == "get" {
				res, err = s.get(ctx, args[0])
			} else {
				res, err = s.put(ctx, args[0])
			}
			if err != nil {
				s.log.Debug("transfer failed", "cmd", cmd, "file", args[0], "err", err)
				fmt.Fprintf(s.out, "%s %s: %v\n", cmd, args[0], describe(err))
				continue
			}
			fmt.Fprintf(s.out, "%s %s: %d bytes in %d blocks\n", cmd, args[0], res.Bytes, res.Blocks)
		default:
			fmt.Fprintln(s.out, `Unsupported command, type "help" for more information.`)
		}
	}
}

// get downloads name into the local directory. The download goes to a
// hidden temp file that replaces the local file only on success.
func (s *Shell) get(ctx context.Context, name string) (res transfer.Result, err error) {
	base := filepath.Base(name)
	f, err := os.CreateTemp(s.dir, "."+base+".*")
	if err != nil {
		return res, err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	// CreateTemp opens with 0600; downloads get ordinary file permissions.
	if err = f.Chmod(0o644); err != nil {
		return res, err
	}
	if res, err = s.tr.Get(ctx, name, f); err != nil {
		return res, err
	}
	if err = f.Close(); err != nil {
		return res, err
	}
	return res, os.Rename(tmp, filepath.Join(s.dir, base))
}

// put uploads a local file under its base name.
func (s *Shell) put(ctx context.Context, name string) (transfer.Result, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, name)
	}
	f, err := os.Open(path)
	if err != nil {
		return transfer.Result{}, err
	}
	defer f.Close()

	return s.tr.Put(ctx, filepath.Base(name), f)
}

func describe(err error) error {
	if errors.Is(err, transfer.ErrNoResponse) {
		return errors.New("server does not respond")
	}
	return err
}
