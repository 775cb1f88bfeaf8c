package provider

import "testing"

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "plain text",
			html: "Hello",
			want: "Hello",
		},
		{
			name: "paragraphs and entities",
			html: "<p>Hello &amp; welcome</p><p>Bye&nbsp;now</p>",
			want: "Hello & welcome\nBye now",
		},
		{
			name: "non-breaking spaces become plain spaces",
			html: "<p>10&nbsp;%&nbsp;&nbsp;off</p>",
			want: "10 % off",
		},
		{
			name: "script and style dropped",
			html: "<style>p{color:red}</style><p>Hi</p><script>alert(1)</script>",
			want: "Hi",
		},
		{
			name: "line breaks",
			html: "one<br>two<br/>three",
			want: "one\ntwo\nthree",
		},
		{
			name: "whitespace collapsed",
			html: "<div>  a \n  b  </div>",
			want: "a b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTMLToText(tt.html); got != tt.want {
				t.Errorf("HTMLToText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSMSBody(t *testing.T) {
	msg := &Message{Subject: "Sale", HTML: "<p>50% off</p>"}
	if got := SMSBody(msg); got != "Sale\n50% off" {
		t.Errorf("SMSBody() = %q", got)
	}

	msg = &Message{HTML: "<p>50% off</p>"}
	if got := SMSBody(msg); got != "50% off" {
		t.Errorf("SMSBody() without subject = %q", got)
	}
}
