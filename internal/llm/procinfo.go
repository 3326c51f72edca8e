package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// localProcessRunning 检查本机是否有进程名包含 names 之一的进程
func localProcessRunning(ctx context.Context, names ...string) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		name = strings.ToLower(name)
		for _, want := range names {
			if strings.Contains(name, want) {
				return true, nil
			}
		}
	}
	return false, nil
}

// diagnoseLocalServer 本地服务连接失败时检查进程，未运行则改写为更明确的错误
func diagnoseLocalServer(ctx context.Context, connErr error, baseURL string, names ...string) error {
	if !errors.IsErrorCode(connErr, errors.ErrCodeConnectivity) || !isLoopback(baseURL) {
		return connErr
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	running, err := localProcessRunning(ctx, names...)
	if err != nil {
		util.Debugw("无法检查本地进程", map[string]any{"error": err.Error()})
		return connErr
	}
	if running {
		return connErr
	}
	return errors.WrapErrorWithDetails(errors.ErrCodeLocalNotReady, "本地模型服务未运行", connErr,
		fmt.Sprintf("%s 不可达，且未发现 %s 进程", baseURL, strings.Join(names, "/")))
}

func isLoopback(baseURL string) bool {
	for _, host := range []string{"://localhost", "://127.0.0.1", "://[::1]", "://0.0.0.0"} {
		if strings.Contains(baseURL, host) {
			return true
		}
	}
	return false
}
