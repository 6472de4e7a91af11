package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchAdminKey 监听管理密钥文件的变化，实现凭据热加载。
// 文件内容变化时以去除首尾空白后的新密钥调用 onChange；
// 密钥被清空或文件被删除时以空串调用，调用方据此转入空闲。
// 内容未变的事件不触发回调。返回停止监听的函数。
//
// 监听目录而不是文件本身：原子替换（写临时文件再 rename）
// 会让文件级监听失效。
func WatchAdminKey(path string, logger *logrus.Logger, onChange func(newKey string)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	last := readKeyFile(path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				key := readKeyFile(path)
				if key == last {
					continue
				}
				last = key
				logger.WithField("file", path).Info("Admin key file changed, reloading credentials")
				onChange(key)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Credentials watcher error")
			}
		}
	}()

	return func() { watcher.Close() }, nil
}

func readKeyFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
