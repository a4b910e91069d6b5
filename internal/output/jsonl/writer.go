// Package jsonl 把决策记录与状态快照异步写入 JSONL 文件。
// 决策周期只负责投递，编码与文件 I/O 在后台 goroutine 完成，磁盘变慢不会拖慢决策。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ErrDropped 自上次 Flush 以来有记录因编码或写入失败被丢弃
var ErrDropped = errors.New("jsonl: 记录被丢弃")

type opType int

const (
	opWrite opType = iota
	opFlush
	opClose
)

type op struct {
	typ  opType
	val  any
	done chan error
}

// Writer 单个 JSONL 文件的异步写入器
// 一条记录编码失败只丢弃该条，不影响后续记录；丢弃情况由下一次 Flush 报告，
// 调用方据此记录日志，决策本身已经生效，不做重放。
type Writer struct {
	// path 输出文件路径
	path string
	// ch 操作通道，容量即可积压的记录数
	ch chan op

	closeOnce sync.Once
	closeErr  error
	closed    int32

	// dropped 累计丢弃数
	dropped int64

	sendMu sync.Mutex
	wg     sync.WaitGroup
}

// NewWriter 以追加模式打开 path，目录不存在时创建
// 参数 bufferSize: 可积压的记录数，<=0 时为 1000
func NewWriter(path string, bufferSize int) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path: path,
		ch:   make(chan op, bufferSize),
	}

	w.wg.Add(1)
	go w.loop(f)

	return w, nil
}

// Write 投递一条记录；积压满时阻塞，关闭后返回错误
func (w *Writer) Write(v any) error {
	if w == nil {
		return fmt.Errorf("writer 为空")
	}
	return w.send(op{typ: opWrite, val: v})
}

// Flush 等待已投递的记录落盘
// 期间有记录被丢弃时返回包装 ErrDropped 的错误。
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	done := make(chan error, 1)
	if err := w.send(op{typ: opFlush, done: done}); err != nil {
		// 已关闭，Close 时已落盘
		return nil
	}
	return <-done
}

// Close 落盘并关闭文件，可重复调用
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		atomic.StoreInt32(&w.closed, 1)
		w.sendMu.Lock()
		defer w.sendMu.Unlock()
		done := make(chan error, 1)
		w.ch <- op{typ: opClose, done: done}
		w.closeErr = <-done
		close(w.ch)
	})
	w.wg.Wait()
	return w.closeErr
}

// Dropped 累计丢弃的记录数
func (w *Writer) Dropped() int64 {
	if w == nil {
		return 0
	}
	return atomic.LoadInt64(&w.dropped)
}

// Path 输出文件路径
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

func (w *Writer) send(o op) error {
	if atomic.LoadInt32(&w.closed) == 1 {
		return fmt.Errorf("writer 已关闭")
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if atomic.LoadInt32(&w.closed) == 1 {
		return fmt.Errorf("writer 已关闭")
	}
	w.ch <- o
	return nil
}

func (w *Writer) loop(f *os.File) {
	defer w.wg.Done()
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20)

	// 自上次 Flush 以来的丢弃数与第一个原因
	var pending int
	var cause error
	drop := func(err error) {
		atomic.AddInt64(&w.dropped, 1)
		if pending == 0 {
			cause = err
		}
		pending++
	}
	report := func(flushErr error) error {
		if pending == 0 {
			return flushErr
		}
		err := fmt.Errorf("%w: %s 丢弃 %d 条，首个原因: %v", ErrDropped, filepath.Base(w.path), pending, cause)
		pending, cause = 0, nil
		return errors.Join(flushErr, err)
	}

	for req := range w.ch {
		switch req.typ {
		case opWrite:
			b, err := json.Marshal(req.val)
			if err != nil {
				drop(err)
				continue
			}
			if _, err := bw.Write(append(b, '\n')); err != nil {
				drop(err)
			}
		case opFlush:
			req.done <- report(bw.Flush())
		case opClose:
			// 关闭时只报告落盘错误，丢弃数仍可通过 Dropped 查询
			req.done <- bw.Flush()
			return
		}
	}
}
