package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// Browser owns the Chrome instance shared by every worker. Workers open
// their own pages on it; the profile (and therefore the login session) is
// shared at the browser level.
type Browser struct {
	config   *Config
	trace    *zap.Logger
	browser  *rod.Browser
	launcher *launcher.Launcher
	portal   *rod.Page
	stopChan chan bool
}

func NewBrowser(config *Config, trace *zap.Logger) *Browser {
	return &Browser{
		config:   config,
		trace:    trace,
		stopChan: make(chan bool, 1),
	}
}

func (b *Browser) Close() {
	select {
	case b.stopChan <- true:
	default:
	}

	if b.portal != nil {
		b.portal.Close()
	}

	if b.browser != nil {
		b.browser.Close()
	}

	if b.launcher != nil {
		b.launcher.Cleanup()
	}
}

func (b *Browser) Alive() bool {
	if b.browser == nil {
		return false
	}

	_, err := b.browser.Version()
	if err != nil {
		b.trace.Debug("browser version check failed", zap.Error(err))
		return false
	}

	return true
}

func (b *Browser) checkBrowserOrExit() {
	if !b.Alive() {
		fmt.Println("Browser was closed. Shutting down.")
		os.Exit(0)
	}
}

func (b *Browser) watchBrowser() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.checkBrowserOrExit()
		}
	}
}

func (b *Browser) Setup() error {
	fmt.Println("Launching browser...")

	// Disable leakless mode on Windows to prevent deadlock
	// See: https://github.com/go-rod/rod/issues/853
	useLeakless := runtime.GOOS != "windows"

	// Prefer system Chrome to avoid the Chromium download
	chromePath, chromeExists := launcher.LookPath()

	b.launcher = launcher.New().
		Leakless(useLeakless).
		Headless(b.config.Headless)

	// Custom user data dir so we do not collide with a running Chrome.
	// Must be set before Bin().
	if b.config.BrowserProfilePath != "" {
		b.launcher = b.launcher.UserDataDir(b.config.BrowserProfilePath)
	}

	if chromeExists {
		b.launcher = b.launcher.Bin(chromePath)
		b.trace.Debug("using system chrome", zap.String("path", chromePath))
	}

	url, err := b.launcher.Launch()
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "Opening in existing browser session") ||
			strings.Contains(errMsg, "ProcessSingleton") ||
			strings.Contains(errMsg, "SingletonLock") {
			fmt.Println("Chrome is already running with this profile.")
			fmt.Println("Close all Chrome windows and try again.")
			return fmt.Errorf("chrome already running")
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	b.browser = rod.New().ControlURL(url)
	if err := b.browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	go b.watchBrowser()

	fmt.Println("Browser launched.")
	return nil
}

// WaitForLogin opens the portal login page and polls until the operator has
// signed in: the URL has left /login and no password field remains. The page
// stays open afterwards as the cookie source for the API client.
func (b *Browser) WaitForLogin() error {
	loginURL := b.config.PortalURL + "/ko/login"
	fmt.Printf("Opening %s - please sign in.\n", loginURL)

	var err error
	b.portal, err = stealth.Page(b.browser)
	if err != nil {
		return fmt.Errorf("failed to create stealth page: %w", err)
	}

	err = b.portal.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: defaultUserAgent,
	})
	if err != nil {
		b.trace.Debug("failed to set user agent", zap.Error(err))
	}

	if err := b.portal.Navigate(loginURL); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	if err := b.portal.WaitLoad(); err != nil {
		return fmt.Errorf("login page failed to load: %w", err)
	}

	deadline := time.Now().Add(time.Duration(b.config.LoginTimeoutSeconds) * time.Second)
	for time.Now().Before(deadline) {
		loggedIn, err := b.portal.Eval(`() => {
			const onLoginPage = location.pathname.toLowerCase().includes('login');
			const hasPassword = document.querySelector("input[type='password']") !== null;
			return !onLoginPage && !hasPassword;
		}`)
		if err == nil && loggedIn.Value.Bool() {
			fmt.Println("Login detected.")
			return nil
		}
		time.Sleep(2 * time.Second)
	}

	return fmt.Errorf("timed out waiting for login after %ds", b.config.LoginTimeoutSeconds)
}

func (b *Browser) Portal() *rod.Page { return b.portal }

// OpenPage opens a fresh tab on the shared profile and navigates it.
func (b *Browser) OpenPage(url string) (*rod.Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if err := page.WaitLoad(); err != nil {
		b.trace.Debug("page load wait failed", zap.String("url", url), zap.Error(err))
	}

	// Auto-accept any confirm/alert the booking flow throws.
	go page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		_ = proto.PageHandleJavaScriptDialog{Accept: true}.Call(page)
	})()

	return page, nil
}

// Pages lists the open tabs, newest last.
func (b *Browser) Pages() rod.Pages {
	pages, err := b.browser.Pages()
	if err != nil {
		b.trace.Debug("failed to list pages", zap.Error(err))
		return nil
	}
	return pages
}
