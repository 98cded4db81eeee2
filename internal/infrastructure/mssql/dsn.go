package mssql

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// traceLogFlags enables go-mssqldb's error, message, rows, SQL, params and
// transaction logging (1|2|4|8|16|32).
const traceLogFlags = 63

// Connection string parameters set by this package. Sub-options with the
// same name are overridden.
const (
	paramDatabase = "database"
	paramLog      = "log"
	paramAppName  = "app name"
)

// BuildDSN renders transport options as a sqlserver:// connection string.
//
// Rules:
//   - A named instance becomes the URL path and no port is written
//   - A domain turns the user into DOMAIN\user (NTLM)
//   - The debug option becomes the driver's log flags
//   - Every other sub-option becomes a query parameter
//
// Parameters:
//   - opts: Options produced by tds.Translate
//   - appName: Reported to the server as the application name; may be empty
//
// Returns:
//   - string: Connection string for mssql.NewConnector
func BuildDSN(opts tds.TransportOptions, appName string) string {
	u := &url.URL{
		Scheme: "sqlserver",
		Host:   opts.Server,
	}
	if opts.Port != 0 {
		u.Host = net.JoinHostPort(opts.Server, strconv.Itoa(opts.Port))
	}

	user := opts.UserName
	if opts.Domain != "" {
		user = opts.Domain + `\` + user
	}
	if user != "" || opts.Password != "" {
		u.User = url.UserPassword(user, opts.Password)
	}

	if inst := opts.InstanceName(); inst != "" {
		u.Path = "/" + inst
	}

	q := url.Values{}
	keys := make([]string, 0, len(opts.Options))
	for k := range opts.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch k {
		case tds.OptionInstanceName, tds.OptionDebug:
			continue
		}
		if s, ok := formatParam(opts.Options[k]); ok {
			q.Set(k, s)
		}
	}

	if opts.Database != "" {
		q.Set(paramDatabase, opts.Database)
	}
	if opts.Debug() {
		q.Set(paramLog, strconv.Itoa(traceLogFlags))
	}
	if appName != "" && q.Get(paramAppName) == "" {
		q.Set(paramAppName, appName)
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// formatParam renders a sub-option value. Nested groups have no
// connection string form and are skipped.
func formatParam(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case map[string]any, []any:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}

// redactDSN hides the password for logging.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "<unparseable dsn>"
	}
	return u.Redacted()
}
