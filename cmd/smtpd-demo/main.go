// Command smtpd-demo is a minimal ESMTP server built on the
// tuatara.dev/go/smtpd library, wiring together the scrypt-hashed
// backends/userdb authenticator and the in-memory store/filter from
// examples/memstore.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/docopt/docopt-go"

	"tuatara.dev/go/smtpd"
	"tuatara.dev/go/smtpd/backends/userdb"
	"tuatara.dev/go/smtpd/examples/memstore"
	"tuatara.dev/go/smtpd/internal/log"
)

const usage = `smtpd-demo.

Usage:
  smtpd-demo serve [--addr=<addr>] [--hostname=<name>] [--userdb=<path>] [--allow=<domains>]
  smtpd-demo adduser <user> <domain> <password> [--userdb=<path>]
  smtpd-demo -h | --help

Options:
  -h --help            Show this help.
  --addr=<addr>        Address to listen on [default: 127.0.0.1:2525].
  --hostname=<name>    Hostname to announce in the banner and EHLO [default: localhost].
  --userdb=<path>      Path to the userdb.DB JSON file [default: ./smtpd-demo-users.json].
  --allow=<domains>    Comma-separated recipient domains to accept mail for [default: localhost].
`

type cliArgs struct {
	Serve    bool
	Adduser  bool   `docopt:"adduser"`
	User     string `docopt:"<user>"`
	Domain   string `docopt:"<domain>"`
	Password string `docopt:"<password>"`
	Addr     string `docopt:"--addr"`
	Hostname string `docopt:"--hostname"`
	Userdb   string `docopt:"--userdb"`
	Allow    string `docopt:"--allow"`
}

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "smtpd-demo")
	if err != nil {
		log.Fatalf("%v", err)
	}

	var args cliArgs
	if err := opts.Bind(&args); err != nil {
		log.Fatalf("parsing arguments: %v", err)
	}

	db, err := userdb.Load(args.Userdb)
	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("loading user database %q: %v", args.Userdb, err)
	}

	switch {
	case args.Adduser:
		runAdduser(db, args.Userdb, args.User, args.Domain, args.Password)
	case args.Serve:
		runServe(db, args.Addr, args.Hostname, args.Allow)
	}
}

func runAdduser(db *userdb.DB, path, user, domain, password string) {
	db.Domain = domain
	if err := db.AddUser(user, password); err != nil {
		log.Fatalf("adding user: %v", err)
	}
	if err := db.Write(); err != nil {
		log.Fatalf("writing user database %q: %v", path, err)
	}
	fmt.Printf("added %s@%s to %s\n", user, domain, path)
}

func runServe(db *userdb.DB, addr, hostname, allow string) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		log.Fatalf("invalid --addr %q: %v", addr, err)
	}

	store := memstore.New()
	filter := memstore.NewAllowList(strings.Split(allow, ",")...)

	opt, err := smtpd.NewOptions().
		WithServerName(hostname).
		WithEndpoint(smtpd.EndpointDefinition{
			Address:                     host,
			Port:                        port,
			AllowUnsecureAuthentication: true,
		}).
		WithMessageStoreFactory(func() smtpd.MessageStore { return store }).
		WithMailboxFilterFactory(func() smtpd.MailboxFilter { return filter }).
		WithUserAuthenticatorFactory(func() smtpd.UserAuthenticator { return db }).
		WithSessionCompleted(func(ctx context.Context, s *smtpd.Session, err error) {
			log.Infof("session from %v completed (%v); %d messages stored so far",
				s.RemoteAddr, err, store.Len())
		}).
		Build()
	if err != nil {
		log.Fatalf("building server options: %v", err)
	}

	srv := smtpd.NewServer(opt)
	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Infof("shutting down")
		srv.Stop()
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("starting server: %v", err)
	}
	log.Infof("listening on %s, accepting mail for %s", addr, allow)

	<-ctx.Done()
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}
