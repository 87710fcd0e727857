package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内のマップで状態を保持するStore。
// IPごとにエンドポイント別のタイムスタンプ列を持ち、アクセス時にそのIPの全エンドポイント分を掃除する。
type MemoryStore struct {
	mu      sync.Mutex
	clients map[string]map[string][]time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients: make(map[string]map[string][]time.Time),
	}
}

// Hit はStoreの実装。単一のロックで直列化するため、同時リクエストでも件数を取りこぼさない。
func (s *MemoryStore) Hit(_ context.Context, clientIP, endpoint string, now time.Time, window time.Duration, maxRequests int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	endpoints := s.purgeLocked(clientIP, cutoff)
	if endpoints == nil {
		endpoints = make(map[string][]time.Time)
		s.clients[clientIP] = endpoints
	}

	if len(endpoints[endpoint]) >= maxRequests {
		return false, nil
	}
	endpoints[endpoint] = append(endpoints[endpoint], now)
	return true, nil
}

// purgeLocked はclientIPの記録のうちcutoff以前のものを削除する。
// 空になったエンドポイントとIPはマップから取り除く。
func (s *MemoryStore) purgeLocked(clientIP string, cutoff time.Time) map[string][]time.Time {
	endpoints, ok := s.clients[clientIP]
	if !ok {
		return nil
	}
	for ep, stamps := range endpoints {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(endpoints, ep)
			continue
		}
		endpoints[ep] = kept
	}
	if len(endpoints) == 0 {
		delete(s.clients, clientIP)
		return nil
	}
	return endpoints
}

// Sweep は全IPについてウィンドウ外の記録を削除する。
// 再訪しないクライアントの記録はアクセス時の掃除では消えないため、定期的に呼ぶ。
func (s *MemoryStore) Sweep(now time.Time, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	for ip := range s.clients {
		s.purgeLocked(ip, cutoff)
	}
}

// RunSweeper はctxがキャンセルされるまでinterval毎にSweepを実行する。
func (s *MemoryStore) RunSweeper(ctx context.Context, interval, window time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now, window)
		}
	}
}

// ClientCount は記録を保持しているIPの数を返す。
func (s *MemoryStore) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
