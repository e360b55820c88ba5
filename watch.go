package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"time"

	"github.com/Seednode/tabletop/viewsync"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type watchConfig struct {
	url      string
	interval time.Duration
	role     string
}

func parseRole(s string) (viewsync.Role, error) {
	switch s {
	case "player":
		return viewsync.RolePlayer, nil
	case "spectator":
		return viewsync.RoleSpectator, nil
	}
	return 0, fmt.Errorf("invalid role %q (must be player or spectator)", s)
}

// splitPageURL turns a page address into the site root the api lives
// under and the path and query the page was opened at.
func splitPageURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("url must be absolute: %q", raw)
	}

	p := u.Path
	if p == "" {
		p = "/"
	}

	base := u.Scheme + "://" + u.Host + path.Dir(p)

	return base, u.RequestURI(), nil
}

func runWatch(ctx context.Context, wc *watchConfig, out, errOut io.Writer) error {
	if wc.interval <= 0 {
		return fmt.Errorf("invalid interval (must be positive): %s", wc.interval)
	}

	base, page, err := splitPageURL(wc.url)
	if err != nil {
		return err
	}

	location, err := viewsync.NewMemoryLocation(page)
	if err != nil {
		return err
	}

	query, _ := url.ParseQuery(location.RawQuery())

	boot, err := viewsync.Route(location.Path(), query)
	if err != nil {
		return err
	}

	role := boot.Role
	switch {
	case wc.role != "":
		role, err = parseRole(wc.role)
		if err != nil {
			return err
		}
	case !boot.Poll:
		return fmt.Errorf("nothing to watch at %s (pass --role)", location.Path())
	}

	// The server binds a seat to the first identity cookie it sees.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}

	var last viewsync.Screen

	ctl := viewsync.New(base, location,
		viewsync.WithHTTPClient(&http.Client{Jar: jar, Timeout: timeout}),
		viewsync.WithAlerter(func(msg string) {
			fmt.Fprintf(errOut, "%s | ALERT: %s\n", time.Now().Format(logDate), msg)
		}),
		viewsync.WithObserver(func(st viewsync.State) {
			if st.Screen == last {
				return
			}
			last = st.Screen

			fmt.Fprintf(out, "%s | SCREEN: %s (%s)\n", time.Now().Format(logDate), st.Screen, location)
		}),
	)

	// Failed first polls were already alerted; keep watching.
	if err := ctl.Start(ctx); errors.Is(err, viewsync.ErrBadID) {
		return err
	}

	err = ctl.Watch(ctx, role, wc.interval)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func newWatchCmd(v *viper.Viper) *cobra.Command {
	wc := &watchConfig{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a player or spectator page from the terminal.",
		Args:  cobra.ExactArgs(0),
		PreRun: func(cmd *cobra.Command, args []string) {
			bindEnv(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), wc, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	fs := cmd.Flags()

	fs.StringVar(&wc.url, "url", "", "page address to follow, e.g. http://host/player?id=p... (env: TABLETOP_URL)")
	fs.DurationVar(&wc.interval, "interval", 2*time.Second, "time between polls (env: TABLETOP_INTERVAL)")
	fs.StringVar(&wc.role, "role", "", "view to poll, player or spectator; taken from the url if unset (env: TABLETOP_ROLE)")

	_ = cmd.MarkFlagRequired("url")

	return cmd
}
