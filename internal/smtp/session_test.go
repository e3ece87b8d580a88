package smtp

import (
	"bytes"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pigeon/internal/conf"
	"pigeon/internal/store"
)

// mockConn implements net.Conn over a pair of buffers for session tests
type mockConn struct {
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer
	closed   bool
}

func newMockConn() *mockConn {
	return &mockConn{
		readBuf:  bytes.NewBuffer(nil),
		writeBuf: bytes.NewBuffer(nil),
	}
}

func (m *mockConn) Read(b []byte) (n int, err error) {
	return m.readBuf.Read(b)
}

func (m *mockConn) Write(b []byte) (n int, err error) {
	return m.writeBuf.Write(b)
}

func (m *mockConn) Close() error {
	m.closed = true
	return nil
}

func (m *mockConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2525}
}

func (m *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 54321}
}

func (m *mockConn) SetDeadline(t time.Time) error {
	return nil
}

func (m *mockConn) SetReadDeadline(t time.Time) error {
	return nil
}

func (m *mockConn) SetWriteDeadline(t time.Time) error {
	return nil
}

func (m *mockConn) writeString(s string) {
	m.readBuf.WriteString(s)
}

func (m *mockConn) getWritten() string {
	return m.writeBuf.String()
}

// recordingBroadcaster captures relayed transactions instead of sending them
type recordingBroadcaster struct {
	sender    string
	recipient string
	raw       string
	calls     int
}

func (r *recordingBroadcaster) Broadcast(sender, recipient, raw string) error {
	r.sender = sender
	r.recipient = recipient
	r.raw = raw
	r.calls++
	return nil
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	return st
}

func setupTestSession(t *testing.T) (*Session, *mockConn, *store.Store, *recordingBroadcaster) {
	t.Helper()

	conn := newMockConn()
	st := setupTestStore(t)
	relay := &recordingBroadcaster{}
	session := NewSession(conn, st, conf.DefaultConfig(), relay)

	return session, conn, st, relay
}

func TestSession_GreetingAndQuit(t *testing.T) {
	session, conn, _, _ := setupTestSession(t)

	conn.writeString("HELO client.remote.org\r\n")
	conn.writeString("QUIT\r\n")

	if err := session.Handle(); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	written := conn.getWritten()

	if !strings.Contains(written, "220 npc.com SMTP ready") {
		t.Error("Expected SMTP greeting")
	}
	if !strings.Contains(written, "250 npc.com Hello") {
		t.Error("Expected HELO response")
	}
	if !strings.Contains(written, "221 npc.com closing connection") {
		t.Error("Expected QUIT response")
	}
}

func TestSession_SyntaxErrors(t *testing.T) {
	session, conn, _, _ := setupTestSession(t)

	conn.writeString("MAIL FROM:no brackets\r\n")
	conn.writeString("RCPT TO:also none\r\n")
	conn.writeString("QUIT\r\n")

	_ = session.Handle()

	written := conn.getWritten()

	if !strings.Contains(written, "501 Syntax error in MAIL FROM") {
		t.Error("Expected MAIL FROM syntax error")
	}
	if !strings.Contains(written, "501 Syntax error in RCPT TO") {
		t.Error("Expected RCPT TO syntax error")
	}
}

func TestSession_DataRequiresEnvelope(t *testing.T) {
	session, conn, _, _ := setupTestSession(t)

	conn.writeString("MAIL FROM:<a@npc.com>\r\n")
	conn.writeString("DATA\r\n")
	conn.writeString("QUIT\r\n")

	_ = session.Handle()

	if !strings.Contains(conn.getWritten(), "503 Need MAIL FROM and RCPT TO before DATA") {
		t.Error("Expected 503 for DATA without complete envelope")
	}
}

func TestSession_UnknownCommand(t *testing.T) {
	session, conn, _, _ := setupTestSession(t)

	conn.writeString("VRFY alice\r\n")
	conn.writeString("QUIT\r\n")

	_ = session.Handle()

	if !strings.Contains(conn.getWritten(), "502 Command not implemented") {
		t.Error("Expected 502 for unknown command")
	}
}

func TestSession_LocalDelivery(t *testing.T) {
	session, conn, st, relay := setupTestSession(t)

	conn.writeString("HELO client\r\n")
	conn.writeString("MAIL FROM:<alice@npc.com>\r\n")
	conn.writeString("RCPT TO:<bob@npc.com>\r\n")
	conn.writeString("DATA\r\n")
	conn.writeString("Message-ID: <k1@npc.com>\r\n")
	conn.writeString("Subject: test\r\n")
	conn.writeString("\r\n")
	conn.writeString("hello bob\r\n")
	conn.writeString(".\r\n")
	conn.writeString("QUIT\r\n")

	_ = session.Handle()

	if !strings.Contains(conn.getWritten(), "250 Message accepted for delivery") {
		t.Error("Expected delivery acceptance")
	}

	count, err := st.CountFor("bob@npc.com")
	if err != nil {
		t.Fatalf("CountFor failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 stored message, got %d", count)
	}

	if relay.calls != 0 {
		t.Error("Local delivery should not touch the relay")
	}
}

func TestSession_RemoteDelivery(t *testing.T) {
	session, conn, st, relay := setupTestSession(t)

	conn.writeString("MAIL FROM:<alice@npc.com>\r\n")
	conn.writeString("RCPT TO:<bob@remote.org>\r\n")
	conn.writeString("DATA\r\n")
	conn.writeString("Subject: outbound\r\n")
	conn.writeString("\r\n")
	conn.writeString("hello remote\r\n")
	conn.writeString(".\r\n")
	conn.writeString("QUIT\r\n")

	_ = session.Handle()

	if !strings.Contains(conn.getWritten(), "250 Message accepted for delivery") {
		t.Error("Expected delivery acceptance")
	}

	if relay.calls != 1 {
		t.Fatalf("Expected 1 relay broadcast, got %d", relay.calls)
	}
	if relay.sender != "alice@npc.com" || relay.recipient != "bob@remote.org" {
		t.Errorf("Relay envelope = %q -> %q", relay.sender, relay.recipient)
	}
	if !strings.Contains(relay.raw, "hello remote") {
		t.Errorf("Relay payload = %q", relay.raw)
	}

	// Remote mail never lands in the local store.
	count, err := st.CountFor("bob@remote.org")
	if err != nil {
		t.Fatalf("CountFor failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no local copy of remote mail, got %d", count)
	}
}

func TestSession_DotTransparency(t *testing.T) {
	session, conn, st, _ := setupTestSession(t)

	conn.writeString("MAIL FROM:<alice@npc.com>\r\n")
	conn.writeString("RCPT TO:<bob@npc.com>\r\n")
	conn.writeString("DATA\r\n")
	conn.writeString("Subject: dots\r\n")
	conn.writeString("\r\n")
	conn.writeString("..hello\r\n")
	conn.writeString(".\r\n")
	conn.writeString("QUIT\r\n")

	_ = session.Handle()

	ids, err := st.IDsFor("bob@npc.com")
	if err != nil || len(ids) != 1 {
		t.Fatalf("IDsFor: ids=%v err=%v", ids, err)
	}

	_, body, ok, err := st.Fetch(ids[0])
	if err != nil || !ok {
		t.Fatalf("Fetch: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(body, ".hello") || strings.Contains(body, "..hello") {
		t.Errorf("Expected leading dot to be unstuffed, got body %q", body)
	}
}

func TestSession_EnvelopeResetBetweenTransactions(t *testing.T) {
	session, conn, _, _ := setupTestSession(t)

	conn.writeString("MAIL FROM:<alice@npc.com>\r\n")
	conn.writeString("RCPT TO:<bob@npc.com>\r\n")
	conn.writeString("DATA\r\n")
	conn.writeString("Subject: first\r\n")
	conn.writeString("\r\n")
	conn.writeString("one\r\n")
	conn.writeString(".\r\n")
	// The second DATA must fail: the first transaction consumed the envelope.
	conn.writeString("DATA\r\n")
	conn.writeString("QUIT\r\n")

	_ = session.Handle()

	if !strings.Contains(conn.getWritten(), "503 Need MAIL FROM and RCPT TO before DATA") {
		t.Error("Expected envelope to reset after a completed transaction")
	}
}

func TestSession_DuplicateMessageIDStillAccepted(t *testing.T) {
	session, conn, st, _ := setupTestSession(t)

	for i := 0; i < 2; i++ {
		conn.writeString("MAIL FROM:<alice@npc.com>\r\n")
		conn.writeString("RCPT TO:<bob@npc.com>\r\n")
		conn.writeString("DATA\r\n")
		conn.writeString("Message-ID: <same-key@npc.com>\r\n")
		conn.writeString("\r\n")
		conn.writeString("body\r\n")
		conn.writeString(".\r\n")
	}
	conn.writeString("QUIT\r\n")

	_ = session.Handle()

	if strings.Count(conn.getWritten(), "250 Message accepted for delivery") != 2 {
		t.Error("Expected both transactions accepted")
	}

	count, err := st.CountFor("bob@npc.com")
	if err != nil {
		t.Fatalf("CountFor failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected duplicate key to store a single copy, got %d", count)
	}
}
