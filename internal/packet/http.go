package packet

import "fmt"

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X)",
	"curl/7.68.0",
	"Wget/1.21",
}

const requestTemplate = "GET /?r=%d-%d HTTP/1.1\r\n" +
	"Host: %s\r\n" +
	"User-Agent: %s\r\n" +
	"Accept: */*\r\n" +
	"Accept-Language: en-US,en;q=0.9\r\n" +
	"Accept-Encoding: gzip, deflate\r\n" +
	"Connection: keep-alive\r\n" +
	"Cache-Control: no-cache\r\n\r\n"

// HTTPRequests returns n keep-alive GET requests. The query string is
// unique per worker and variant so intermediate caches do not absorb the
// load; the user agent cycles through a fixed list.
func (b *builder) HTTPRequests(host string, worker, n int) [][]byte {
	if n <= 0 {
		n = len(userAgents)
	}
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf(requestTemplate, worker, i, host, userAgents[i%len(userAgents)]))
	}
	return out
}
