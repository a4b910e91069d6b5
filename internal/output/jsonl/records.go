package jsonl

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"funding-rate-arbitrage/internal/core/lifecycle"
	"funding-rate-arbitrage/internal/core/model"
)

// RecordType 决策记录类型
type RecordType string

const (
	// RecordEntry 入场
	RecordEntry RecordType = "entry"
	// RecordExit 退出
	RecordExit RecordType = "exit"
	// RecordError token 评估失败
	RecordError RecordType = "error"
)

// DecisionRecord decisions.jsonl 中的一行
type DecisionRecord struct {
	Type      RecordType           `json:"type"`
	Ts        time.Time            `json:"ts"`
	Token     string               `json:"token"`
	Entry     *model.EntryDecision `json:"entry,omitempty"`
	Exit      *model.ExitDecision  `json:"exit,omitempty"`
	ErrorKind string               `json:"error_kind,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// CycleRecords 将一次周期报告展开为决策记录
// 只评估而未产生动作的 token 不输出。
func CycleRecords(rep lifecycle.CycleReport) []DecisionRecord {
	var out []DecisionRecord
	for _, tr := range rep.Tokens {
		switch {
		case tr.Entry != nil:
			out = append(out, DecisionRecord{Type: RecordEntry, Ts: rep.StartedAt, Token: tr.Token, Entry: tr.Entry})
		case tr.Exit != nil:
			out = append(out, DecisionRecord{Type: RecordExit, Ts: rep.StartedAt, Token: tr.Token, Exit: tr.Exit})
		}
		if tr.Err != nil {
			out = append(out, DecisionRecord{
				Type:      RecordError,
				Ts:        rep.StartedAt,
				Token:     tr.Token,
				ErrorKind: tr.ErrKind,
				Error:     tr.ErrMsg,
			})
		}
	}
	return out
}

// Sink 引擎输出：decisions.jsonl 与 status.jsonl
// 未启用的文件对应 writer 为 nil，写入直接忽略。
type Sink struct {
	decisions *Writer
	status    *Writer
}

// NewSink 在 dir 下创建输出文件
func NewSink(dir string, bufferSize int, decisions, status bool) (*Sink, error) {
	s := &Sink{}
	if decisions {
		w, err := NewWriter(filepath.Join(dir, "decisions.jsonl"), bufferSize)
		if err != nil {
			return nil, err
		}
		s.decisions = w
	}
	if status {
		w, err := NewWriter(filepath.Join(dir, "status.jsonl"), bufferSize)
		if err != nil {
			_ = s.decisions.Close()
			return nil, err
		}
		s.status = w
	}
	return s, nil
}

// WriteCycle 写入一次周期的全部决策，返回写入条数
func (s *Sink) WriteCycle(rep lifecycle.CycleReport) (int, error) {
	if s == nil || s.decisions == nil {
		return 0, nil
	}
	n := 0
	for _, rec := range CycleRecords(rep) {
		if err := s.decisions.Write(rec); err != nil {
			return n, fmt.Errorf("写入决策记录失败: %w", err)
		}
		n++
	}
	return n, nil
}

// WriteStatus 写入一次状态快照
func (s *Sink) WriteStatus(v any) error {
	if s == nil || s.status == nil {
		return nil
	}
	return s.status.Write(v)
}

// Flush 刷新全部文件，返回各文件的落盘错误与丢弃情况
func (s *Sink) Flush() error {
	if s == nil {
		return nil
	}
	return errors.Join(s.decisions.Flush(), s.status.Flush())
}

// Dropped 两个文件累计丢弃的记录数
func (s *Sink) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.decisions.Dropped() + s.status.Dropped()
}

// Close 关闭全部文件
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return errors.Join(s.decisions.Close(), s.status.Close())
}
