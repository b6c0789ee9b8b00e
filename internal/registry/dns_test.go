package registry

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/net/dns/dnsmessage"
)

// serveDNS answers one query on a loopback UDP socket.
func serveDNS(t *testing.T, answer func(q dnsmessage.Message) dnsmessage.Message) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	go func() {
		buf := make([]byte, 1500)
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		var q dnsmessage.Message
		if err := q.Unpack(buf[:n]); err != nil {
			return
		}
		resp := answer(q)
		packed, err := resp.Pack()
		if err != nil {
			return
		}
		_, _ = conn.WriteTo(packed, addr)
	}()
	return conn.LocalAddr().String()
}

func TestDNSResolverLookupIPv4(t *testing.T) {
	addr := serveDNS(t, func(q dnsmessage.Message) dnsmessage.Message {
		if len(q.Questions) != 1 || q.Questions[0].Name.String() != "skills.sh." || q.Questions[0].Type != dnsmessage.TypeA {
			t.Errorf("unexpected question %+v", q.Questions)
		}
		hdr := dnsmessage.ResourceHeader{Name: q.Questions[0].Name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: 60}
		return dnsmessage.Message{
			Header:    dnsmessage.Header{ID: q.Header.ID, Response: true, RecursionAvailable: true},
			Questions: q.Questions,
			Answers: []dnsmessage.Resource{
				{Header: hdr, Body: &dnsmessage.AResource{A: [4]byte{64, 239, 109, 193}}},
				{Header: hdr, Body: &dnsmessage.AResource{A: [4]byte{64, 239, 123, 129}}},
			},
		}
	})

	r := DNSResolver{Server: addr, Timeout: 2 * time.Second}
	ips, err := r.LookupIPv4(context.Background(), "skills.sh")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(ips) != 2 || ips[0] != "64.239.109.193" || ips[1] != "64.239.123.129" {
		t.Fatalf("unexpected ips %v", ips)
	}
}

func TestDNSResolverNameError(t *testing.T) {
	addr := serveDNS(t, func(q dnsmessage.Message) dnsmessage.Message {
		return dnsmessage.Message{
			Header:    dnsmessage.Header{ID: q.Header.ID, Response: true, RCode: dnsmessage.RCodeNameError},
			Questions: q.Questions,
		}
	})
	r := DNSResolver{Server: addr, Timeout: 2 * time.Second}
	if _, err := r.LookupIPv4(context.Background(), "missing.example"); err == nil {
		t.Fatalf("expected NXDOMAIN error")
	}
}

func TestDNSResolverTimeout(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()
	r := DNSResolver{Server: conn.LocalAddr().String(), Timeout: 100 * time.Millisecond}
	if _, err := r.LookupIPv4(context.Background(), "skills.sh"); err == nil {
		t.Fatalf("expected timeout error")
	}
}
