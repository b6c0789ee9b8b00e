package registry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"golang.org/x/net/dns/dnsmessage"
)

// Resolver yields IPv4 addresses for a host without going through the
// system resolver.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) ([]string, error)
}

// DNSResolver sends a single A query over UDP to a fixed server.
type DNSResolver struct {
	Server  string
	Timeout time.Duration
}

func (r DNSResolver) LookupIPv4(ctx context.Context, host string) ([]string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, err := dnsmessage.NewName(dnsName(host))
	if err != nil {
		return nil, fmt.Errorf("REG_DNS: %w", err)
	}
	id := uint16(rand.IntN(1 << 16))
	query := dnsmessage.Message{
		Header: dnsmessage.Header{ID: id, RecursionDesired: true},
		Questions: []dnsmessage.Question{{
			Name:  name,
			Type:  dnsmessage.TypeA,
			Class: dnsmessage.ClassINET,
		}},
	}
	packed, err := query.Pack()
	if err != nil {
		return nil, fmt.Errorf("REG_DNS: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", r.Server)
	if err != nil {
		return nil, fmt.Errorf("REG_DNS: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(packed); err != nil {
		return nil, fmt.Errorf("REG_DNS: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("REG_DNS: %w", err)
		}
		ips, matched, err := parseAnswer(buf[:n], id)
		if err != nil {
			return nil, fmt.Errorf("REG_DNS: %w", err)
		}
		if matched {
			return ips, nil
		}
	}
}

func parseAnswer(msg []byte, id uint16) ([]string, bool, error) {
	var p dnsmessage.Parser
	h, err := p.Start(msg)
	if err != nil {
		return nil, false, err
	}
	if h.ID != id || !h.Response {
		return nil, false, nil
	}
	if h.RCode != dnsmessage.RCodeSuccess {
		return nil, true, fmt.Errorf("server returned %s", h.RCode)
	}
	if err := p.SkipAllQuestions(); err != nil {
		return nil, true, err
	}
	var ips []string
	for {
		ah, err := p.AnswerHeader()
		if err == dnsmessage.ErrSectionDone {
			break
		}
		if err != nil {
			return nil, true, err
		}
		if ah.Type != dnsmessage.TypeA || ah.Class != dnsmessage.ClassINET {
			if err := p.SkipAnswer(); err != nil {
				return nil, true, err
			}
			continue
		}
		a, err := p.AResource()
		if err != nil {
			return nil, true, err
		}
		ips = append(ips, net.IP(a.A[:]).String())
	}
	return ips, true, nil
}

func dnsName(host string) string {
	if strings.HasSuffix(host, ".") {
		return host
	}
	return host + "."
}
