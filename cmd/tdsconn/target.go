package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/nerrad567/tdsconn/internal/infrastructure/config"
	"github.com/nerrad567/tdsconn/internal/infrastructure/mssql"
	"github.com/nerrad567/tdsconn/internal/tds"
)

// targetFlags override the configured target for a single command.
type targetFlags struct {
	host         string
	port         int
	username     string
	database     string
	instance     string
	domain       string
	debug        bool
	askPassword  bool
	options      map[string]string
	passwordFrom io.Reader
}

func (f *targetFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.host, "host", "H", "", "Server host (overrides target.host)")
	fs.IntVarP(&f.port, "port", "p", 0, "Server port (overrides target.port)")
	fs.StringVarP(&f.username, "user", "U", "", "Login name (overrides target.username)")
	fs.StringVarP(&f.database, "database", "d", "", "Initial database (overrides target.database)")
	fs.StringVar(&f.instance, "instance", "", "Named instance; the port is ignored when set")
	fs.StringVar(&f.domain, "domain", "", "Windows domain for integrated authentication")
	fs.BoolVar(&f.debug, "debug", false, "Trace the protocol exchange")
	fs.BoolVar(&f.askPassword, "ask-password", false, "Prompt for the password")
	fs.StringToStringVarP(&f.options, "option", "o", nil, "Driver option key=value, repeatable")
}

// descriptor applies the flags over the configured target.
func (f *targetFlags) descriptor(target config.TargetConfig) (tds.Descriptor, error) {
	d := tds.Descriptor{
		Host:     target.Host,
		Port:     target.Port,
		Username: target.Username,
		Password: target.Password,
		Database: target.Database,
		Options:  make(map[string]any, len(target.Options)+len(f.options)+3),
	}
	maps.Copy(d.Options, target.Options)

	if f.host != "" {
		d.Host = f.host
		d.Port = 0
	}
	if f.port != 0 {
		d.Port = f.port
	}
	if f.username != "" {
		d.Username = f.username
		d.Password = ""
	}
	if f.database != "" {
		d.Database = f.database
	}
	for k, v := range f.options {
		d.Options[k] = optionValue(v)
	}
	if f.instance != "" {
		d.Options[tds.OptionInstanceName] = f.instance
	}
	if f.domain != "" {
		d.Options[tds.OptionDomain] = f.domain
	}
	if f.debug {
		d.Options[tds.OptionDebug] = true
	}

	if f.askPassword {
		pass, err := readPassword(f.passwordFrom, d.Username)
		if err != nil {
			return d, err
		}
		d.Password = pass
	}
	return d, nil
}

// optionValue keeps booleans and integers typed so the transport formats
// them the way the driver expects.
func optionValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}

// readPassword prompts on the terminal, or reads one line from r when set.
func readPassword(r io.Reader, user string) (string, error) {
	if r != nil {
		b, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", user)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pass), nil
}

// newManager wires the go-mssqldb transport into a connection manager.
func (a *app) newManager(deps tds.Deps) (*tds.Manager, error) {
	deps.Transport = mssql.New(a.cfg.Handshake, a.log.Component("mssql"))
	if deps.Registry == nil {
		deps.Registry = tds.NewParserRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = a.log.Component("tds")
	}

	manager, err := tds.NewManager(tds.Config{
		Target: tds.Descriptor{
			Host:     a.cfg.Target.Host,
			Port:     a.cfg.Target.Port,
			Username: a.cfg.Target.Username,
			Password: a.cfg.Target.Password,
			Database: a.cfg.Target.Database,
			Options:  a.cfg.Target.Options,
		},
		ConnectTimeout: a.cfg.GetConnectTimeout(),
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("creating connection manager: %w", err)
	}
	return manager, nil
}
