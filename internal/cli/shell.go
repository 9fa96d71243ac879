package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/engine"
)

const prompt = "basket> "

// errQuit ends the shell loop.
var errQuit = errors.New("quit")

// NewShellCommand creates the shell command.
func NewShellCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive cart and wishlist session",
		Long: `Start an interactive session. Type "help" for the list of commands.

Example:
  basketctl shell --catalog ./catalog.yaml --api-url http://localhost:8080/api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := &lockedWriter{w: cmd.OutOrStdout()}

			app, logger, err := opts.openApp(cmd.Context(), cmd, out)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.Error("failed to close snapshot storage", zap.Error(err))
				}
			}()

			return NewShell(app, cmd.InOrStdin(), out).Run(cmd.Context())
		},
	}
}

// Shell is a line-oriented command interpreter over an App.
type Shell struct {
	app *App
	in  io.Reader
	out io.Writer
}

// NewShell creates a shell reading commands from in and writing to out.
func NewShell(app *App, in io.Reader, out io.Writer) *Shell {
	return &Shell{app: app, in: in, out: out}
}

// Run reads commands until "quit", end of input or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)

	s.printf("Shopping as %s. Type \"help\" for commands.\n", userLabel(s.app.User()))
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.printf("%s", prompt)
		if !scanner.Scan() {
			s.printf("\n")
			return scanner.Err()
		}

		err := s.Exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			s.printf("error: %v\n", err)
		}
	}
}

// Exec runs one command line.
func (s *Shell) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "help", "?":
		s.help()
	case "quit", "exit":
		return errQuit
	case "catalog", "products":
		return printProducts(s.out, s.app.Catalog.Search(strings.Join(args, " ")))
	case "cart":
		return printCart(s.out, s.app.Cart.Snapshot())
	case "wishlist":
		return printWishlist(s.out, s.app.Wishlist.Snapshot())
	case "total":
		snap := s.app.Cart.Snapshot()
		s.printf("%d item(s), total %s\n", snap.Count, snap.Total.StringFixed(2))
	case "add":
		return s.add(args)
	case "update":
		return s.update(args)
	case "remove", "rm":
		if err := need(args, 1, "remove <productId>"); err != nil {
			return err
		}
		if !s.app.Cart.Remove(args[0]).Changed {
			s.printf("%s is not in your cart\n", args[0])
		}
	case "clear":
		s.app.Cart.Clear()
	case "wish":
		if err := need(args, 1, "wish <productId>"); err != nil {
			return err
		}
		product, err := s.app.Catalog.Get(args[0])
		if err != nil {
			return err
		}
		_, err = s.app.Wishlist.Add(product, 1)
		return quiet(err)
	case "unwish":
		if err := need(args, 1, "unwish <productId>"); err != nil {
			return err
		}
		if !s.app.Wishlist.Remove(args[0]).Changed {
			s.printf("%s is not in your wishlist\n", args[0])
		}
	case "login":
		return s.login(ctx, args)
	case "logout":
		if err := s.app.Logout(ctx); err != nil {
			return err
		}
		s.printf("Logged out. Your cart and wishlist stay on this machine.\n")
	case "whoami":
		if s.app.User() == nil {
			s.printf("anonymous\n")
			return nil
		}
		user, err := s.app.Whoami(ctx)
		if err != nil {
			return err
		}
		s.printf("%s\n", userLabel(user))
	case "wait", "sync":
		s.app.Wait()
		s.printf("All changes sent.\n")
	default:
		return fmt.Errorf("unknown command %q, type \"help\"", name)
	}
	return nil
}

func (s *Shell) add(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError("add <productId> [quantity]")
	}
	quantity := 1
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("quantity %q is not a number", args[1])
		}
		quantity = n
	}

	product, err := s.app.Catalog.Get(args[0])
	if err != nil {
		return err
	}
	_, err = s.app.Cart.Add(product, quantity)
	return quiet(err)
}

func (s *Shell) update(args []string) error {
	if err := need(args, 2, "update <productId> <quantity>"); err != nil {
		return err
	}
	quantity, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("quantity %q is not a number", args[1])
	}

	if !s.app.Cart.Contains(args[0]) {
		s.printf("%s is not in your cart\n", args[0])
		return nil
	}
	_, err = s.app.Cart.UpdateQuantity(args[0], quantity)
	return quiet(err)
}

func (s *Shell) login(ctx context.Context, args []string) error {
	if err := need(args, 2, "login <email> <password>"); err != nil {
		return err
	}
	if s.app.User() != nil {
		return fmt.Errorf("already logged in as %s, log out first", userLabel(s.app.User()))
	}

	user, err := s.app.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	s.printf("Logged in as %s\n", userLabel(user))
	return nil
}

func (s *Shell) help() {
	s.printf(`Commands:
  catalog [query]                list or search products
  add <productId> [quantity]     add to cart
  update <productId> <quantity>  set a cart quantity, 0 removes
  remove <productId>             remove from cart
  clear                          empty the cart
  cart                           show the cart
  total                          show item count and total
  wish <productId>               add to wishlist
  unwish <productId>             remove from wishlist
  wishlist                       show the wishlist
  login <email> <password>       log in and merge this machine's collections
  logout                         log out, keeping a local copy
  whoami                         show the session user
  wait                           wait for pending changes to reach the server
  quit                           leave
`)
}

func (s *Shell) printf(format string, a ...any) {
	fmt.Fprintf(s.out, format, a...)
}

func need(args []string, n int, usage string) error {
	if len(args) != n {
		return usageError(usage)
	}
	return nil
}

func usageError(usage string) error {
	return fmt.Errorf("usage: %s", usage)
}

// quiet drops rejections, which the notifier has already printed.
func quiet(err error) error {
	if errors.Is(err, engine.ErrRejected) {
		return nil
	}
	return err
}
