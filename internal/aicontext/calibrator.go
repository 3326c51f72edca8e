package aicontext

import (
	"context"
	"fmt"
	"strings"
)

// ViewportCalibrator 根据视口生成坐标校准说明
type ViewportCalibrator struct {
	state HostState
}

// NewViewportCalibrator 创建校准器
func NewViewportCalibrator(state HostState) *ViewportCalibrator {
	return &ViewportCalibrator{state: state}
}

// Calibrate 生成校准文本，没有宿主状态时返回空
func (c *ViewportCalibrator) Calibrate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.state == nil {
		return "", nil
	}

	vp := c.state.Viewport()
	zoom := vp.Zoom
	if zoom <= 0 {
		zoom = 1
	}

	var b strings.Builder
	b.WriteString("坐标系：原点位于画布左上角，x 轴向右，y 轴向下，单位为画布像素。\n")
	fmt.Fprintf(&b, "当前缩放 %.2f，画布上 1 个单位对应屏幕上 %.2f 像素。\n", zoom, zoom)
	v := vp.Visible
	fmt.Fprintf(&b, "可见区域：x 从 %.0f 到 %.0f，y 从 %.0f 到 %.0f。", v.X, v.X+v.Width, v.Y, v.Y+v.Height)
	if v.Width > 0 && v.Height > 0 {
		fmt.Fprintf(&b, "\n可见区域中心为 (%.0f, %.0f)，新建元素应尽量放在可见区域内。", v.X+v.Width/2, v.Y+v.Height/2)
	}
	return b.String(), nil
}
