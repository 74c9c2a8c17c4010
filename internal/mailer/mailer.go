// Package mailer implements the mail/SMTP fanout collaborator: a narrow
// Send interface backed by os/exec invocation of a configured mail
// agent binary (sendmail-compatible). Grounded on codexrunner's
// fork/exec/wait shape. Send blocks on the subprocess and returns the
// queue id and any error to its caller; it writes nothing to the
// database and never calls back into the event loop.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"os/exec"
	"time"
)

// Message is one outgoing mail submission.
type Message struct {
	To string
	Subject string
	Body string
}

// Mailer submits messages through an external mail agent binary.
type Mailer struct {
	agent string
	args []string
}

// New constructs a Mailer invoking agent with args (typically something
// like "sendmail -t").
func New(agent string, args []string) *Mailer {
	return &Mailer{agent: agent, args: args}
}

// QueueID renders the queue row id as CRC32(ip‖cookie‖epoch-ns) in 8-hex.
func QueueID(ip, cookie string, epochNS int64) string {
	data := fmt.Sprintf("%s%s%d", ip, cookie, epochNS)
	sum := crc32.ChecksumIEEE([]byte(data))
	return fmt.Sprintf("%08x", sum)
}

// Send submits msg through the configured mail agent, blocking on the
// subprocess. clientIP/sessionCookie identify the submitting connection
// and feed QueueID. Callers that must not block the event loop run Send
// on a threadpool worker or a detached goroutine.
func (m *Mailer) Send(ctx context.Context, clientIP, sessionCookie string, msg Message) (id string, err error) {
	id = QueueID(clientIP, sessionCookie, time.Now().UnixNano())

	cmd := exec.CommandContext(ctx, m.agent, m.args...)
	cmd.Stdin = bytes.NewBufferString(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", msg.To, msg.Subject, msg.Body))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return id, fmt.Errorf("mailer: send via %s: %w: %s", m.agent, err, stderr.String())
	}
	return id, nil
}
