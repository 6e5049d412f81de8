// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

const connectTimeout = 30 * time.Second

// ConnectionError indicates the browser was unreachable or provisioning
// failed. It is fatal for the session that attempted it.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("browser connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Driver owns exactly one live CDP connection and one managed page within an
// isolated browsing context. It presents the primitive actions the executor
// maps model commands onto. A Driver is bound to a single session and must
// never be shared across sessions.
type Driver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	provider *ProvisionClient
	instance *Instance

	allocCtx    context.Context
	allocCancel context.CancelFunc

	// bootCtx is the bootstrap tab kept open for browser-level commands
	// (creating and disposing the isolated browsing context).
	bootCtx    context.Context
	bootCancel context.CancelFunc

	pageCtx    context.Context
	pageCancel context.CancelFunc
	contextID  cdp.BrowserContextID

	stopOnce sync.Once
}

// NewDriver creates an unconnected driver. Start must be called next.
func NewDriver(cfg config.BrowserConfig, logger *zap.Logger) *Driver {
	return &Driver{
		cfg:    cfg,
		logger: logger.Named("browser"),
	}
}

// Start establishes the browser connection, creates an isolated browsing
// context with one page sized to the configured viewport, and begins
// intercepting extra tabs. Failure here is fatal for the calling session.
func (d *Driver) Start(ctx context.Context) error {
	wsURL := d.cfg.CDPAddress

	if d.cfg.ProviderAPIKey != "" {
		d.provider = NewProvisionClient(d.cfg.ProviderEndpoint, d.cfg.ProviderAPIKey, d.logger)
		inst, err := d.provider.CreateInstance(ctx)
		if err != nil {
			return &ConnectionError{Err: err}
		}
		d.instance = inst
		wsURL = inst.ConnectURL
		d.logger.Info("Using provisioned browser instance", zap.String("instance_id", inst.ID))
	} else {
		d.logger.Info("Attaching to debuggable browser", zap.String("address", wsURL))
	}

	if err := d.connect(ctx, wsURL); err != nil {
		d.releaseInstance()
		return &ConnectionError{Err: err}
	}

	d.interceptNewTargets()
	d.logger.Info("Browser driver started",
		zap.Int("viewport_width", d.cfg.ViewportWidth),
		zap.Int("viewport_height", d.cfg.ViewportHeight),
	)
	return nil
}

// connect attaches to the CDP endpoint and builds the isolated context + page.
func (d *Driver) connect(ctx context.Context, wsURL string) error {
	d.allocCtx, d.allocCancel = chromedp.NewRemoteAllocator(context.Background(), wsURL)
	d.bootCtx, d.bootCancel = chromedp.NewContext(d.allocCtx)

	var targetID target.ID
	createCtx, cancel := context.WithTimeout(d.bootCtx, connectTimeout)
	defer cancel()

	err := chromedp.Run(createCtx, chromedp.ActionFunc(func(cctx context.Context) error {
		// An isolated browsing context gives the session independent
		// cookies and storage even on a shared browser process.
		id, err := target.CreateBrowserContext().Do(cctx)
		if err != nil {
			return fmt.Errorf("failed to create browsing context: %w", err)
		}
		d.contextID = id

		tid, err := target.CreateTarget("about:blank").WithBrowserContextID(id).Do(cctx)
		if err != nil {
			return fmt.Errorf("failed to create page: %w", err)
		}
		targetID = tid
		return nil
	}))
	if err != nil {
		d.teardownConnection()
		return err
	}

	d.pageCtx, d.pageCancel = chromedp.NewContext(d.allocCtx, chromedp.WithTargetID(targetID))

	initCtx, cancelInit := context.WithTimeout(d.pageCtx, connectTimeout)
	defer cancelInit()
	if err := chromedp.Run(initCtx,
		chromedp.EmulateViewport(int64(d.cfg.ViewportWidth), int64(d.cfg.ViewportHeight)),
	); err != nil {
		d.teardownConnection()
		return fmt.Errorf("failed to size viewport: %w", err)
	}

	return nil
}

// Stop closes the browsing context and, if a remote instance was provisioned,
// requests its termination. Teardown failures are logged, never raised: the
// primary context has already been released by then.
func (d *Driver) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.logger.Info("Stopping browser driver.")

		if d.pageCancel != nil {
			d.pageCancel()
		}

		if d.bootCtx != nil && d.contextID != "" {
			disposeCtx, cancel := context.WithTimeout(d.bootCtx, 10*time.Second)
			err := chromedp.Run(disposeCtx, chromedp.ActionFunc(func(cctx context.Context) error {
				return target.DisposeBrowserContext(d.contextID).Do(cctx)
			}))
			cancel()
			if err != nil {
				d.logger.Warn("Failed to dispose browsing context.", zap.Error(err))
			}
		}

		d.teardownConnection()
		d.releaseInstance()
	})
	return nil
}

func (d *Driver) teardownConnection() {
	if d.bootCancel != nil {
		d.bootCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
}

// releaseInstance asks the provisioning service to terminate the remote
// instance, best-effort.
func (d *Driver) releaseInstance() {
	if d.provider == nil || d.instance == nil {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.provider.ReleaseInstance(releaseCtx, d.instance.ID); err != nil {
		d.logger.Warn("Failed to release provisioned browser instance.", zap.Error(err))
	}
	d.instance = nil
}

// interceptNewTargets redirects any tab the page opens back into the single
// managed tab and discards the extra target. The system supports exactly one
// active page per session.
func (d *Driver) interceptNewTargets() {
	go func() {
		for {
			ch := chromedp.WaitNewTarget(d.pageCtx, func(info *target.Info) bool {
				return info.Type == "page" && info.OpenerID != ""
			})
			select {
			case <-d.pageCtx.Done():
				return
			case id := <-ch:
				d.adoptPopup(id)
			}
		}
	}()
}

// adoptPopup reads the popup's destination, closes it, and navigates the
// managed tab there instead.
func (d *Driver) adoptPopup(id target.ID) {
	popupCtx, cancel := chromedp.NewContext(d.pageCtx, chromedp.WithTargetID(id))
	defer cancel()

	var url string
	readCtx, readCancel := context.WithTimeout(popupCtx, 5*time.Second)
	err := chromedp.Run(readCtx,
		// Give the popup a beat to commit its navigation before reading.
		chromedp.Sleep(300*time.Millisecond),
		chromedp.Location(&url),
	)
	readCancel()
	if err != nil {
		d.logger.Warn("Could not read popup URL; discarding tab.", zap.Error(err))
	}

	if cerr := chromedp.Cancel(popupCtx); cerr != nil {
		d.logger.Debug("Popup close returned error.", zap.Error(cerr))
	}

	if url == "" || url == "about:blank" {
		return
	}

	navCtx, navCancel := context.WithTimeout(d.pageCtx, connectTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		d.logger.Warn("Failed to redirect popup into managed tab.", zap.String("url", url), zap.Error(err))
		return
	}
	d.logger.Info("Redirected popup into managed tab", zap.String("url", url))
}

// run executes chromedp actions against the managed page, honoring both the
// page lifecycle and the caller's deadline.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	if d.pageCtx == nil {
		return &ConnectionError{Err: errors.New("driver not started")}
	}
	runCtx, cancel := combineContext(d.pageCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// CurrentState waits for the page's load signal (bounded; a stalled load must
// not abort the session), applies the fixed settle delay, then captures the
// viewport and address.
func (d *Driver) CurrentState(ctx context.Context) (*schemas.EnvironmentState, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.LoadTimeout)
	if err := d.run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		d.logger.Warn("Page load signal not observed in time; capturing anyway.", zap.Error(err))
	}
	cancel()

	var (
		buf []byte
		url string
	)
	err := d.run(ctx,
		chromedp.Sleep(d.cfg.SettleDelay),
		chromedp.Location(&url),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to capture environment state: %w", err)
	}
	return &schemas.EnvironmentState{Screenshot: buf, URL: url}, nil
}

// ScreenSize reports the live viewport size, falling back to the configured
// size when the page cannot be queried.
func (d *Driver) ScreenSize(ctx context.Context) (int, int) {
	var dims []int
	if err := d.run(ctx, chromedp.Evaluate(`[window.innerWidth, window.innerHeight]`, &dims)); err != nil || len(dims) != 2 || dims[0] <= 0 || dims[1] <= 0 {
		return d.cfg.ViewportWidth, d.cfg.ViewportHeight
	}
	return dims[0], dims[1]
}

// showMarker draws a transient visible dot at the given pixel coordinates to
// aid human observation, then holds briefly so it is actually seen. It must
// never affect the action outcome.
func (d *Driver) showMarker(ctx context.Context, points ...[2]int) {
	if !d.cfg.ShowActionMarker || len(points) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString("(() => {")
	for _, p := range points {
		fmt.Fprintf(&sb, `{
			const m = document.createElement('div');
			m.style.cssText = 'position:fixed;z-index:2147483647;width:18px;height:18px;border-radius:50%%;border:3px solid red;background:rgba(255,0,0,0.35);pointer-events:none;transform:translate(-50%%,-50%%);left:%dpx;top:%dpx;';
			document.body.appendChild(m);
			setTimeout(() => m.remove(), 900);
		}`, p[0], p[1])
	}
	sb.WriteString("})()")

	if err := d.run(ctx,
		chromedp.Evaluate(sb.String(), nil),
		chromedp.Sleep(d.cfg.MarkerDelay),
	); err != nil {
		d.logger.Debug("Action marker injection failed.", zap.Error(err))
	}
}

// combineContext creates a context canceled when either parent is canceled,
// while preserving the chromedp target attached to primary.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
