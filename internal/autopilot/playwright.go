package autopilot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"upbit-autopilot/internal/mcp"
)

const playwrightCheckTimeout = 20 * time.Second

// verifyWithPlaywright captures the exchange UI for the worker's market
// through the Playwright MCP bridge. The check is advisory: any failure
// produces a WARN event and the entry proceeds.
func (w *Worker) verifyWithPlaywright(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, playwrightCheckTimeout)
	defer cancel()

	url := marketPageURL(w.cfg.Market)
	if _, err := w.deps.Mcp.ExecuteTool(ctx, "browser_navigate",
		map[string]interface{}{"url": url}, mcp.NamespacePlaywright); err != nil {
		w.emitPlaywrightWarn("browser_navigate", err.Error())
		return
	}

	result, err := w.deps.Mcp.ExecuteTool(ctx, "browser_take_screenshot",
		map[string]interface{}{"fullPage": false}, mcp.NamespacePlaywright)
	if err != nil {
		w.emitPlaywrightWarn("browser_take_screenshot", err.Error())
		return
	}
	if result.IsError {
		w.emitPlaywrightWarn("browser_take_screenshot", result.FirstText())
		return
	}

	image := result.FirstImage()
	if image == nil {
		w.emitPlaywrightWarn("browser_take_screenshot", "no image in tool result")
		return
	}

	src := image.URL
	if src == "" && image.Data != "" {
		mimeType := image.MimeType
		if mimeType == "" {
			mimeType = "image/png"
		}
		src = fmt.Sprintf("data:%s;base64,%s", mimeType, image.Data)
	}

	var shotID string
	if w.deps.Screenshots != nil && src != "" {
		shotID = w.deps.Screenshots.Add(image.MimeType, src)
	}

	if w.deps.OnEvent != nil {
		evt := newEvent(EventPlaywright, LevelInfo, w.cfg.Market, "PLAYWRIGHT_CHECK", "UI capture ok")
		evt.ToolName = "browser_take_screenshot"
		evt.ScreenshotID = shotID
		w.deps.OnEvent(evt)
	}
}

func (w *Worker) emitPlaywrightWarn(tool, detail string) {
	if w.deps.OnEvent == nil {
		return
	}
	evt := newEvent(EventPlaywright, LevelWarn, w.cfg.Market, "PLAYWRIGHT_WARN", detail)
	evt.ToolName = tool
	w.deps.OnEvent(evt)
}

// marketPageURL maps a market id to the exchange trade page.
func marketPageURL(market string) string {
	base := strings.TrimPrefix(market, "KRW-")
	return fmt.Sprintf("https://upbit.com/exchange?code=CRIX.UPBIT.KRW-%s", base)
}
