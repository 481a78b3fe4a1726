package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/catalog"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/provision"
)

func WriteServiceTable(w io.Writer, services []catalog.Service) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tHAS_KEY\tENDPOINT")
	for _, s := range services {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.KeyStatus, dash(s.ProxyEndpoint))
	}
	_ = tw.Flush()
}

func WriteServiceTableWide(w io.Writer, services []catalog.Service) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSYSTEM_NAME\tAUTH_METHOD\tHAS_KEY\tENDPOINT\tAPPLICATION\tAPI_KEY")
	for _, s := range services {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Name, dash(s.SystemName), dash(s.AuthMethod), s.KeyStatus, dash(s.ProxyEndpoint),
			dash(s.ApplicationID.String()), dash(s.Key))
	}
	_ = tw.Flush()
}

// WriteMissingKeys lists the services the account has no key for yet.
func WriteMissingKeys(w io.Writer, services []catalog.Service) {
	var missing []catalog.Service
	for _, s := range services {
		if s.KeyStatus == catalog.KeyNo {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "\nServices without an API key (request one with --init id=<ID>):")
	for _, s := range missing {
		_, _ = fmt.Fprintf(w, "  %s  %s\n", s.ID, s.Name)
	}
}

// WriteMenu prints the numbered choices of the interactive selection.
func WriteMenu(w io.Writer, services []catalog.Service) {
	_, _ = fmt.Fprintln(w, "Available services:")
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	for i, s := range services {
		mark := ""
		if s.HasKey() {
			mark = "(has key)"
		}
		_, _ = fmt.Fprintf(tw, "  %d.\t%s\t%s\t%s\n", i+1, s.ID, s.Name, mark)
	}
	_ = tw.Flush()
}

func WriteCredential(w io.Writer, cred *provision.Credential) {
	verb := "Existing"
	if cred.Created {
		verb = "New"
	}
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "SERVICE:\t%s (%s)\n", cred.ServiceName, cred.ServiceID)
	_, _ = fmt.Fprintf(tw, "APPLICATION:\t%s\n", cred.ApplicationID)
	_, _ = fmt.Fprintf(tw, "PLAN:\t%s\n", dash(cred.PlanID.String()))
	_, _ = fmt.Fprintf(tw, "API_KEY:\t%s\n", cred.Key)
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "%s API key for %s.\n", verb, cred.ServiceName)
}

// SessionStatus is what `auth status` reports.
type SessionStatus struct {
	Provider      string    `json:"provider" yaml:"provider"`
	Realm         string    `json:"realm,omitempty" yaml:"realm,omitempty"`
	ClientID      string    `json:"clientId" yaml:"clientId"`
	Subject       string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	Email         string    `json:"email,omitempty" yaml:"email,omitempty"`
	Expiry        time.Time `json:"expiry" yaml:"expiry"`
	RefreshExpiry time.Time `json:"refreshExpiry,omitempty" yaml:"refreshExpiry,omitempty"`
	Valid         bool      `json:"valid" yaml:"valid"`
	Refreshable   bool      `json:"refreshable" yaml:"refreshable"`
	Token         string    `json:"token" yaml:"token"`
}

func WriteSessionStatus(w io.Writer, s SessionStatus) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "PROVIDER:\t%s\n", s.Provider)
	if s.Realm != "" {
		_, _ = fmt.Fprintf(tw, "REALM:\t%s\n", s.Realm)
	}
	_, _ = fmt.Fprintf(tw, "CLIENT_ID:\t%s\n", s.ClientID)
	_, _ = fmt.Fprintf(tw, "SUBJECT:\t%s\n", dash(s.Subject))
	_, _ = fmt.Fprintf(tw, "EMAIL:\t%s\n", dash(s.Email))
	_, _ = fmt.Fprintf(tw, "EXPIRES:\t%s\n", formatTime(s.Expiry))
	_, _ = fmt.Fprintf(tw, "REFRESH_EXPIRES:\t%s\n", formatTime(s.RefreshExpiry))
	_, _ = fmt.Fprintf(tw, "VALID:\t%v\n", s.Valid)
	_, _ = fmt.Fprintf(tw, "REFRESHABLE:\t%v\n", s.Refreshable)
	_, _ = fmt.Fprintf(tw, "TOKEN:\t%s\n", s.Token)
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
