package socks5

import (
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

// Accept runs the server side of the handshake on conn and returns the
// requested CONNECT target. Non-CONNECT commands are answered with "command
// not supported" and reported as an error.
func Accept(conn net.Conn, auth Auth) (string, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return "", fmt.Errorf("socks5: read negotiation: %w", err)
	}

	want := txsocks5.MethodNone
	if auth.Username != "" {
		want = txsocks5.MethodUsernamePassword
	}
	if !slices.Contains(neg.Methods, want) {
		// RFC 1928: 0xFF means no acceptable methods.
		_, _ = txsocks5.NewNegotiationReply(txsocks5.MethodUnsupportAll).WriteTo(conn)
		return "", ErrNoAcceptableMethod
	}
	if _, err := txsocks5.NewNegotiationReply(want).WriteTo(conn); err != nil {
		return "", fmt.Errorf("socks5: write negotiation: %w", err)
	}

	if want == txsocks5.MethodUsernamePassword {
		creds, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return "", fmt.Errorf("socks5: read credentials: %w", err)
		}
		if string(creds.Uname) != auth.Username || string(creds.Passwd) != auth.Password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
			return "", ErrAuthFailed
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
			return "", fmt.Errorf("socks5: write credentials reply: %w", err)
		}
	}

	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return "", fmt.Errorf("socks5: read request: %w", err)
	}
	if req.Cmd != txsocks5.CmdConnect {
		Reject(conn, txsocks5.RepCommandNotSupported)
		return "", fmt.Errorf("socks5: unsupported command %#x", req.Cmd)
	}
	return req.Address(), nil
}

// Reject writes a failure reply with a zero bind address.
func Reject(conn net.Conn, code byte) {
	_, _ = txsocks5.NewReply(code, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(conn)
}

// RejectRefused is Reject with "connection refused".
func RejectRefused(conn net.Conn) {
	Reject(conn, txsocks5.RepConnectionRefused)
}

// Succeed writes a success reply carrying bound as the bind address.
func Succeed(conn net.Conn, bound net.Addr) error {
	atyp, addr, port, err := txsocks5.ParseAddress(bound.String())
	if err != nil {
		return fmt.Errorf("socks5: parse bind address %q: %w", bound, err)
	}
	if atyp == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, atyp, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5: write reply: %w", err)
	}
	return nil
}
