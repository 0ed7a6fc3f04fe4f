package email

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Endpoints are the servers of one mailbox provider
type Endpoints struct {
	IMAP string // host:port
	SMTP string // host:port
}

// Provider presets, keyed by mail domain
var knownProviders = map[string]Endpoints{
	"gmail.com":      {IMAP: "imap.gmail.com:993", SMTP: "smtp.gmail.com:587"},
	"googlemail.com": {IMAP: "imap.gmail.com:993", SMTP: "smtp.gmail.com:587"},
	"outlook.com":    {IMAP: "outlook.office365.com:993", SMTP: "smtp.office365.com:587"},
	"hotmail.com":    {IMAP: "outlook.office365.com:993", SMTP: "smtp.office365.com:587"},
	"live.com":       {IMAP: "outlook.office365.com:993", SMTP: "smtp.office365.com:587"},
	"msn.com":        {IMAP: "outlook.office365.com:993", SMTP: "smtp.office365.com:587"},
	"yahoo.com":      {IMAP: "imap.mail.yahoo.com:993", SMTP: "smtp.mail.yahoo.com:587"},
	"yahoo.co.uk":    {IMAP: "imap.mail.yahoo.com:993", SMTP: "smtp.mail.yahoo.com:587"},
	"icloud.com":     {IMAP: "imap.mail.me.com:993", SMTP: "smtp.mail.me.com:587"},
	"me.com":         {IMAP: "imap.mail.me.com:993", SMTP: "smtp.mail.me.com:587"},
	"aol.com":        {IMAP: "imap.aol.com:993", SMTP: "smtp.aol.com:587"},
	"zoho.com":       {IMAP: "imap.zoho.com:993", SMTP: "smtp.zoho.com:587"},
	"fastmail.com":   {IMAP: "imap.fastmail.com:993", SMTP: "smtp.fastmail.com:587"},
	"gmx.com":        {IMAP: "imap.gmx.com:993", SMTP: "mail.gmx.com:587"},
	"yandex.com":     {IMAP: "imap.yandex.com:993", SMTP: "smtp.yandex.com:587"},
	"yandex.ru":      {IMAP: "imap.yandex.ru:993", SMTP: "smtp.yandex.ru:587"},
	"mail.ru":        {IMAP: "imap.mail.ru:993", SMTP: "smtp.mail.ru:587"},
	"proton.me":      {IMAP: "127.0.0.1:1143", SMTP: "127.0.0.1:1025"}, // ProtonMail Bridge
}

// Resolver finds IMAP and SMTP servers for an address
type Resolver struct {
	// Reachable reports whether host:port accepts TCP connections
	Reachable func(ctx context.Context, address string) bool
	LookupMX  func(ctx context.Context, domain string) ([]*net.MX, error)
}

// NewResolver creates a resolver that dials real servers
func NewResolver() *Resolver {
	return &Resolver{
		Reachable: canDialTCP,
		LookupMX:  net.DefaultResolver.LookupMX,
	}
}

// Resolve determines the servers for an email address: known provider
// presets first, then common host patterns, then the domain's MX host.
func (r *Resolver) Resolve(ctx context.Context, email string) (Endpoints, error) {
	domain := DomainOf(email)
	if domain == "" {
		return Endpoints{}, fmt.Errorf("invalid email format: %q", email)
	}

	if ep, ok := knownProviders[domain]; ok {
		return ep, nil
	}

	ep := Endpoints{
		IMAP: r.first(ctx, []string{"imap." + domain, "mail." + domain, domain}, "993"),
		SMTP: r.first(ctx, []string{"smtp." + domain, "mail." + domain, domain}, "587"),
	}
	if ep.IMAP != "" && ep.SMTP != "" {
		return ep, nil
	}

	// Derive from the MX host, e.g. mx1.provider.net -> imap.provider.net
	if base := r.mxBase(ctx, domain); base != "" {
		if ep.IMAP == "" {
			ep.IMAP = r.first(ctx, []string{"imap." + base, "mail." + base}, "993")
		}
		if ep.SMTP == "" {
			ep.SMTP = r.first(ctx, []string{"smtp." + base, "mail." + base}, "587")
		}
	}

	// Fall back to the conventional names
	if ep.IMAP == "" {
		ep.IMAP = net.JoinHostPort("imap."+domain, "993")
	}
	if ep.SMTP == "" {
		ep.SMTP = net.JoinHostPort("smtp."+domain, "587")
	}
	return ep, nil
}

func (r *Resolver) first(ctx context.Context, hosts []string, port string) string {
	for _, host := range hosts {
		address := net.JoinHostPort(host, port)
		if r.Reachable(ctx, address) {
			return address
		}
	}
	return ""
}

func (r *Resolver) mxBase(ctx context.Context, domain string) string {
	records, err := r.LookupMX(ctx, domain)
	if err != nil || len(records) == 0 {
		return ""
	}
	host := strings.TrimSuffix(records[0].Host, ".")
	parts := strings.SplitN(host, ".", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

func canDialTCP(ctx context.Context, address string) bool {
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// DomainOf extracts the lowercased domain of an email address
func DomainOf(email string) string {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}
