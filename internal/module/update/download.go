package update

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/robotsgofarming/abls/internal/module/flash"
	"github.com/robotsgofarming/abls/pkg/log"
)

// headerTimeout bounds the wait for the first response byte. A stalled
// firmware server is a download failure, never an indefinite hang.
const headerTimeout = 10 * time.Second

func newDownloadClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: headerTimeout,
		},
	}
}

// download streams the firmware at rawURL straight into the scratch region,
// chunk by chunk. The server must answer 200 with a Content-Length equal to
// size; chunked encoding and short bodies are rejected.
func (o *Orchestrator) download(ctx context.Context, scratch flash.Region, rawURL string, size uint32) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	if u.Scheme != "http" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrNetworkError, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: server answered %s", ErrDownloadFailed, resp.Status)
	}
	for _, enc := range resp.TransferEncoding {
		if enc == "chunked" {
			return fmt.Errorf("%w: chunked transfer encoding not supported", ErrDownloadFailed)
		}
	}
	if resp.ContentLength < 0 {
		return fmt.Errorf("%w: missing Content-Length", ErrDownloadFailed)
	}
	if resp.ContentLength != int64(size) {
		return fmt.Errorf("%w: Content-Length %d, command declared %d", ErrDownloadFailed, resp.ContentLength, size)
	}

	chunk := o.dev.Geometry().SectorSize
	buf := make([]byte, chunk)
	var received uint32
	for i := 0; received < size; i++ {
		if i%safetyTickEvery == 0 {
			o.safety.Tick()
		}
		if err := o.checkAborted(); err != nil {
			return err
		}

		n := chunk
		if size-received < n {
			n = size - received
		}
		if _, err := io.ReadFull(resp.Body, buf[:n]); err != nil {
			return fmt.Errorf("%w: short read at %d of %d bytes: %v", ErrDownloadFailed, received, size, err)
		}
		if err := scratch.WriteAt(received, buf[:n]); err != nil {
			return fmt.Errorf("%w: scratch write: %v", ErrFlashFailed, err)
		}
		received += n
		o.versions.SetProgress(int(uint64(received) * 100 / uint64(size)))
	}

	log.Info("Firmware downloaded", "bytes", received, "url", rawURL)
	return nil
}
