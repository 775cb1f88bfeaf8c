package provider

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/mailcast/internal/email"
)

// buildMessage constructs an RFC 5322 multipart/alternative message and
// returns it together with its Message-ID
func buildMessage(msg *Message, now time.Time) ([]byte, string) {
	var buf bytes.Buffer

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), email.ExtractDomainOrDefault(msg.FromEmail, "localhost"))
	text := msg.Text
	if text == "" {
		text = HTMLToText(msg.HTML)
	}

	buf.WriteString(fmt.Sprintf("From: %s\r\n", email.FormatAddress(msg.FromEmail, msg.FromName)))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", email.FormatAddress(msg.ToEmail, msg.ToName)))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))

	boundary := uuid.New().String()
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	writePart(&buf, boundary, "text/plain", text)
	writePart(&buf, boundary, "text/html", msg.HTML)

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes(), messageID
}

func writePart(buf *bytes.Buffer, boundary, contentType, body string) {
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString(fmt.Sprintf("Content-Type: %s; charset=utf-8\r\n", contentType))
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(buf)
	qp.Write([]byte(body))
	qp.Close()
	buf.WriteString("\r\n")
}
