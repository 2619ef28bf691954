package target

import "testing"

func TestParseHostSpec(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    HostSpec
		wantErr bool
	}{
		{
			name: "bare host",
			in:   "web1.example.com",
			want: HostSpec{Host: "web1.example.com"},
		},
		{
			name: "host and port",
			in:   "web1.example.com:2222",
			want: HostSpec{Host: "web1.example.com", Port: 2222},
		},
		{
			name: "user and host",
			in:   "deploy@web1.example.com",
			want: HostSpec{Host: "web1.example.com", User: "deploy"},
		},
		{
			name: "user host and port",
			in:   "deploy@web1.example.com:2222",
			want: HostSpec{Host: "web1.example.com", User: "deploy", Port: 2222},
		},
		{
			name: "ssh scheme is stripped",
			in:   "ssh://deploy@web1.example.com:2222",
			want: HostSpec{Host: "web1.example.com", User: "deploy", Port: 2222},
		},
		{
			name: "trailing slash tolerated",
			in:   "ssh://web1.example.com/",
			want: HostSpec{Host: "web1.example.com"},
		},
		{
			name: "bracketed ipv6",
			in:   "[2001:db8::1]",
			want: HostSpec{Host: "2001:db8::1"},
		},
		{
			name: "bracketed ipv6 with port",
			in:   "[2001:db8::1]:2222",
			want: HostSpec{Host: "2001:db8::1", Port: 2222},
		},
		{
			name: "raw ipv6 without brackets",
			in:   "2001:db8::1",
			want: HostSpec{Host: "2001:db8::1"},
		},
		{
			name: "surrounding whitespace",
			in:   "  web1.example.com  ",
			want: HostSpec{Host: "web1.example.com"},
		},
		{name: "empty", in: "", wantErr: true},
		{name: "whitespace only", in: "   ", wantErr: true},
		{name: "http scheme rejected", in: "http://web1.example.com", wantErr: true},
		{name: "path component rejected", in: "web1.example.com/var/tmp", wantErr: true},
		{name: "empty user rejected", in: "@web1.example.com", wantErr: true},
		{name: "user without host rejected", in: "deploy@", wantErr: true},
		{name: "empty port rejected", in: "web1.example.com:", wantErr: true},
		{name: "non-numeric port rejected", in: "web1.example.com:abc", wantErr: true},
		{name: "port zero rejected", in: "web1.example.com:0", wantErr: true},
		{name: "port too large rejected", in: "web1.example.com:70000", wantErr: true},
		{name: "unterminated ipv6 rejected", in: "[2001:db8::1", wantErr: true},
		{name: "garbage after ipv6 rejected", in: "[2001:db8::1]x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHostSpec(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHostSpec(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got != tt.want {
				t.Errorf("ParseHostSpec(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
