package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/catalog"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/config"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/errdefs"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/output"
)

func lookupEnvPassword() string {
	return os.Getenv(config.EnvKeycloakPassword)
}

// osUsername strips a Windows domain prefix.
func osUsername() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	name := u.Username
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func (rt *runtimeState) readLine() (string, error) {
	line, err := rt.reader().ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (rt *runtimeState) stdinPassword(_ context.Context, username string) (string, string, error) {
	if username == "" {
		username = osUsername()
	}
	password, err := rt.readLine()
	if err != nil {
		return "", "", fmt.Errorf("read password from stdin: %w", err)
	}
	return username, password, nil
}

func (rt *runtimeState) terminal() (int, bool) {
	f, ok := rt.input.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

func (rt *runtimeState) promptCredentials(_ context.Context, username string) (string, string, error) {
	w := rt.ErrWriter()
	if username == "" {
		def := osUsername()
		if def != "" {
			_, _ = fmt.Fprintf(w, "Username [%s]: ", def)
		} else {
			_, _ = fmt.Fprint(w, "Username: ")
		}
		line, err := rt.readLine()
		if err != nil {
			return "", "", err
		}
		username = strings.TrimSpace(line)
		if username == "" {
			username = def
		}
	}

	_, _ = fmt.Fprintf(w, "Password for %s: ", username)
	if fd, ok := rt.terminal(); ok {
		raw, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(w)
		if err != nil {
			return "", "", err
		}
		return username, string(raw), nil
	}
	password, err := rt.readLine()
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

func (rt *runtimeState) promptEmail(_ context.Context, key string) (string, error) {
	_, _ = fmt.Fprintf(rt.ErrWriter(), "No developer account exists for %s and the token has no email.\nEmail address for account creation: ", key)
	line, err := rt.readLine()
	if err != nil {
		return "", fmt.Errorf("read email: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// menuChooser prints the numbered service menu and reads a choice.
type menuChooser struct {
	rt *runtimeState
}

func (m menuChooser) Choose(ctx context.Context, services []catalog.Service) (*catalog.Service, error) {
	w := m.rt.Writer()
	output.WriteMenu(w, services)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, _ = fmt.Fprintf(w, "Select a service [1-%d]: ", len(services))
		line, err := m.rt.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errdefs.NotFound("select service", "no service selected")
			}
			return nil, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || n < 1 || n > len(services) {
			_, _ = fmt.Fprintf(w, "Please enter a number between 1 and %d.\n", len(services))
			continue
		}
		return &services[n-1], nil
	}
}
