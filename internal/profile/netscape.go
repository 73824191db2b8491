package profile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/legifetch/internal/retrieval"
)

const (
	netscapeHeader = "# Netscape HTTP Cookie File"
	httpOnlyPrefix = "#HttpOnly_"
)

// ReadNetscape parses a Netscape/Mozilla cookie file.
func ReadNetscape(r io.Reader) ([]retrieval.Cookie, error) {
	var out []retrieval.Cookie
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		text = strings.TrimPrefix(text, httpOnlyPrefix)
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("cookie file line %d: expected 7 fields, got %d", line, len(fields))
		}
		expires, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cookie file line %d: parse expiry: %w", line, err)
		}
		c := retrieval.Cookie{
			Domain: fields[0],
			Path:   fields[2],
			Secure: strings.EqualFold(fields[3], "TRUE"),
			Name:   fields[5],
			Value:  fields[6],
		}
		if expires > 0 {
			c.Expires = time.Unix(expires, 0).UTC()
		}
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return out, nil
}

// WriteNetscape serialises cookies in the Netscape cookie file format.
func WriteNetscape(w io.Writer, cookies []retrieval.Cookie) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, netscapeHeader); err != nil {
		return fmt.Errorf("write cookie header: %w", err)
	}
	for _, c := range cookies {
		includeSub := "FALSE"
		if strings.HasPrefix(c.Domain, ".") {
			includeSub = "TRUE"
		}
		secure := "FALSE"
		if c.Secure {
			secure = "TRUE"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		var expires int64
		if c.HasExpiry() {
			expires = c.Expires.Unix()
		}
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			c.Domain, includeSub, path, secure, expires, c.Name, c.Value); err != nil {
			return fmt.Errorf("write cookie %s: %w", c.Name, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush cookie file: %w", err)
	}
	return nil
}

// SaveNetscapeFile writes cookies to path, creating parent directories.
func SaveNetscapeFile(path string, cookies []retrieval.Cookie) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create cookie jar dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open cookie jar: %w", err)
	}
	if err := WriteNetscape(f, cookies); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close cookie jar: %w", err)
	}
	return nil
}
