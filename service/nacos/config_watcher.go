package nacos

import (
	"context"
	"fmt"
	"sync"

	"moodchat/logger"

	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// Source reads one remote config document and keeps the latest copy.
type Source struct {
	client config_client.IConfigClient
	dataID string
	group  string

	mu      sync.RWMutex
	current string
}

func NewSource(client config_client.IConfigClient, c Config) *Source {
	c.norm()
	return &Source{client: client, dataID: c.DataID, group: c.Group}
}

// Fetch loads the document once.
func (s *Source) Fetch() (string, error) {
	content, err := s.client.GetConfig(vo.ConfigParam{DataId: s.dataID, Group: s.group})
	if err != nil {
		return "", fmt.Errorf("get nacos config %s/%s: %w", s.group, s.dataID, err)
	}
	s.set(content)
	return content, nil
}

// Watch calls onChange for every published revision until ctx is done.
func (s *Source) Watch(ctx context.Context, onChange func(data string)) error {
	param := vo.ConfigParam{
		DataId: s.dataID,
		Group:  s.group,
		OnChange: func(namespace, group, dataId, data string) {
			logger.Info("nacos config changed", zap.String("group", group), zap.String("data_id", dataId))
			s.set(data)
			if onChange != nil {
				onChange(data)
			}
		},
	}
	if err := s.client.ListenConfig(param); err != nil {
		return fmt.Errorf("listen nacos config %s/%s: %w", s.group, s.dataID, err)
	}
	go func() {
		<-ctx.Done()
		if err := s.client.CancelListenConfig(vo.ConfigParam{DataId: s.dataID, Group: s.group}); err != nil {
			logger.Warn("nacos cancel listen", zap.Error(err))
		}
	}()
	return nil
}

// Current returns the last fetched or pushed document.
func (s *Source) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Source) set(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = data
}
