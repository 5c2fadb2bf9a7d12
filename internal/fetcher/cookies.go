package fetcher

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
)

// LoadCookiesFile reads a Netscape-format cookies.txt file into the jar.
// Lines are: domain, include-subdomains flag, path, secure flag, expiry,
// name, value, separated by tabs. Comment and blank lines are ignored.
func LoadCookiesFile(jar *cookiejar.Jar, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	byHost := make(map[string][]*http.Cookie)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 7 {
			continue
		}
		domain := strings.TrimPrefix(parts[0], ".")
		secure := strings.EqualFold(parts[3], "TRUE")
		byHost[domain] = append(byHost[domain], &http.Cookie{
			Name:   parts[5],
			Value:  parts[6],
			Path:   parts[2],
			Domain: parts[0],
			Secure: secure,
		})
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(byHost) == 0 {
		return fmt.Errorf("no cookies found in %s", path)
	}

	for host, cookies := range byHost {
		u := &url.URL{Scheme: "https", Host: host}
		jar.SetCookies(u, cookies)
	}
	return nil
}
