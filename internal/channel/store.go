package channel

import (
	"context"
	"fmt"

	"flowgate/internal/logger"
	"flowgate/internal/storage"
)

// Store 基于 SQLite 的通道实现，两个进程各自打开同一份数据库
type Store struct {
	state *storage.StateRepo
	held  *storage.HeldFlowRepo
	log   logger.Logger
}

// NewStore 创建通道
func NewStore(state *storage.StateRepo, held *storage.HeldFlowRepo, l logger.Logger) *Store {
	if l == nil {
		l = logger.NewNop()
	}
	return &Store{state: state, held: held, log: l}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// SetFlag 覆盖写入
func (s *Store) SetFlag(ctx context.Context, key Key, value string) error {
	if err := s.state.Set(ctx, string(key), value); err != nil {
		return unavailable("set "+string(key), err)
	}
	return nil
}

// ReadFlag 读取开关，不存在时返回 def
func (s *Store) ReadFlag(ctx context.Context, key Key, def string) (string, error) {
	v, found, err := s.state.Get(ctx, string(key))
	if err != nil {
		return def, unavailable("read "+string(key), err)
	}
	if !found {
		return def, nil
	}
	return v, nil
}

// EnqueueFlowCommand 在一个事务内读取、追加、写回
func (s *Store) EnqueueFlowCommand(ctx context.Context, list Key, flowID string) error {
	if !isListKey(list) {
		return fmt.Errorf("%w: %s", ErrNotList, list)
	}
	err := s.state.Update(ctx, string(list), func(cur string, _ bool) (string, bool, error) {
		set := s.decodeList(list, cur)
		if !set.Add(flowID) {
			return "", false, nil
		}
		return set.Encode(), true, nil
	})
	if err != nil {
		return unavailable("enqueue "+string(list), err)
	}
	return nil
}

// DrainListKey 在一个事务内读取并清空
func (s *Store) DrainListKey(ctx context.Context, list Key) ([]string, error) {
	if !isListKey(list) {
		return nil, fmt.Errorf("%w: %s", ErrNotList, list)
	}
	var ids []string
	err := s.state.Update(ctx, string(list), func(cur string, found bool) (string, bool, error) {
		ids = nil
		if !found {
			return "", false, nil
		}
		ids = s.decodeList(list, cur).IDs()
		if cur == "[]" {
			return "", false, nil
		}
		return "[]", true, nil
	})
	if err != nil {
		return nil, unavailable("drain "+string(list), err)
	}
	return ids, nil
}

// PutEditedRequest 写入替换请求，同一个流后写覆盖先写
func (s *Store) PutEditedRequest(ctx context.Context, flowID, raw string) error {
	err := s.state.Update(ctx, string(EditedRequestsKey), func(cur string, _ bool) (string, bool, error) {
		m := s.decodeEdited(cur)
		m[flowID] = raw
		return m.Encode(), true, nil
	})
	if err != nil {
		return unavailable("put edited request", err)
	}
	return nil
}

// TakeEditedRequests 取出给定流的替换请求，其余条目保留
func (s *Store) TakeEditedRequests(ctx context.Context, flowIDs []string) (map[string]string, error) {
	out := map[string]string{}
	if len(flowIDs) == 0 {
		return out, nil
	}
	err := s.state.Update(ctx, string(EditedRequestsKey), func(cur string, found bool) (string, bool, error) {
		out = map[string]string{}
		if !found {
			return "", false, nil
		}
		m := s.decodeEdited(cur)
		for _, id := range flowIDs {
			if raw, ok := m[id]; ok {
				out[id] = raw
				delete(m, id)
			}
		}
		if len(out) == 0 {
			return "", false, nil
		}
		return m.Encode(), true, nil
	})
	if err != nil {
		return nil, unavailable("take edited requests", err)
	}
	return out, nil
}

// ReplaceHeld 整体重写镜像
func (s *Store) ReplaceHeld(ctx context.Context, project string, flows []HeldFlow) error {
	rows := make([]storage.HeldFlow, 0, len(flows))
	for _, f := range flows {
		rows = append(rows, storage.HeldFlow{FlowID: f.FlowID, CapturedAt: f.CapturedAt})
	}
	if err := s.held.Replace(ctx, project, rows); err != nil {
		return unavailable("replace held flows", err)
	}
	return nil
}

// ListHeld 读取镜像
func (s *Store) ListHeld(ctx context.Context, project string) ([]HeldFlow, error) {
	rows, err := s.held.List(ctx, project)
	if err != nil {
		return nil, unavailable("list held flows", err)
	}
	out := make([]HeldFlow, 0, len(rows))
	for _, r := range rows {
		out = append(out, HeldFlow{FlowID: r.FlowID, CapturedAt: r.CapturedAt})
	}
	return out, nil
}

func (s *Store) decodeList(key Key, raw string) *FlowSet {
	set, ok := DecodeFlowSet(raw)
	if !ok {
		s.log.Warn("命令列表格式错误，按空列表处理", "key", string(key))
	}
	return set
}

func (s *Store) decodeEdited(raw string) EditedRequests {
	m, ok := DecodeEditedRequests(raw)
	if !ok {
		s.log.Warn("编辑请求格式错误，按空映射处理", "key", string(EditedRequestsKey))
	}
	return m
}
