// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command ticketctl logs in to a ticketd server and administers its
// credentials.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/opentrusty/ticketd/internal/credential"
	"github.com/opentrusty/ticketd/internal/crypto"
	"github.com/opentrusty/ticketd/internal/observability/logger"
	"github.com/opentrusty/ticketd/internal/session"
	transportHTTP "github.com/opentrusty/ticketd/internal/transport/http"
)

const usage = `Usage: ticketctl [flags] <command> [args]

Commands:
  login                             log in and report the session identity
  register-user <id> <password>     register a password identity
  register-client <id>              register a client; its key is kept in --credentials
  set-admin <id> <true|false>       change the administrator flag
  remove <id>                       remove a credential
  passwd <id> <old> <new>           change a password
  check <unit>                      print the rights of the session on a unit

Flags:
`

type options struct {
	server      string
	credentials string
	user        string
	password    string
	client      string
	admin       bool
	logLevel    string
}

func main() {
	var opts options
	pflag.StringVarP(&opts.server, "server", "s", envOr("TICKETD_URL", "http://localhost:8080"), "ticketd base URL")
	pflag.StringVar(&opts.credentials, "credentials", envOr("TICKETD_CREDENTIALS", "ticketctl-credentials.yaml"), "local file holding client keys")
	pflag.StringVarP(&opts.user, "user", "u", os.Getenv("TICKETD_USER"), "user to log in as")
	pflag.StringVarP(&opts.password, "password", "p", os.Getenv("TICKETD_PASSWORD"), "password of --user")
	pflag.StringVar(&opts.client, "client", "", "client to log in as before --user")
	pflag.BoolVar(&opts.admin, "admin", false, "register the new identity as an administrator")
	pflag.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	logger.InitLogger(logger.Config{Level: opts.logLevel, Format: "text", ServiceName: "ticketctl", Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, pflag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "ticketctl: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(ctx context.Context, opts options, args []string) error {
	local, err := credential.OpenFileVault(opts.credentials)
	if err != nil {
		return err
	}

	client := transportHTTP.NewClient(opts.server)
	c := session.NewCoordinator(client, local, session.WithKeyDeriver(crypto.DefaultKeyDeriver()))
	defer c.Close()

	if err := login(ctx, c, opts); err != nil {
		return err
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "login":
		if err := expect(args, 0); err != nil {
			return err
		}
		fmt.Printf("logged in as %s (admin: %t)\n", c.Identity(), c.IsAdmin(ctx))
		return nil

	case "register-user":
		if err := expect(args, 2); err != nil {
			return err
		}
		return c.RegisterUser(ctx, args[0], args[1], opts.admin)

	case "register-client":
		if err := expect(args, 1); err != nil {
			return err
		}
		if err := c.RegisterClient(ctx, args[0], opts.admin); err != nil {
			return err
		}
		fmt.Printf("client key stored in %s\n", local.Path())
		return nil

	case "set-admin":
		if err := expect(args, 2); err != nil {
			return err
		}
		admin, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("invalid admin flag %q", args[1])
		}
		return c.SetAdministrator(ctx, args[0], admin)

	case "remove":
		if err := expect(args, 1); err != nil {
			return err
		}
		return c.RemoveUser(ctx, args[0])

	case "passwd":
		if err := expect(args, 3); err != nil {
			return err
		}
		return c.ChangePassword(ctx, args[0], args[1], args[2])

	case "check":
		if err := expect(args, 1); err != nil {
			return err
		}
		env, err := c.Authenticate()
		if err != nil {
			return err
		}
		rights, err := client.CheckPermission(ctx, env, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s on %s: read=%t write=%t access=%t\n", c.Identity(), args[0], rights.Read, rights.Write, rights.Access)
		return nil

	default:
		pflag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func login(ctx context.Context, c *session.Coordinator, opts options) error {
	if opts.client != "" {
		if err := c.LoginClient(ctx, opts.client); err != nil {
			return fmt.Errorf("client login: %w", err)
		}
	}
	if opts.user != "" {
		if err := c.Login(ctx, opts.user, opts.password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	if !c.IsLoggedIn() {
		return errors.New("no identity given; use --user or --client")
	}
	return nil
}

func expect(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}
