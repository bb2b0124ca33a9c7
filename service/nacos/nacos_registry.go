package nacos

import (
	"fmt"
	"sync"

	"moodchat/logger"

	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// Registry announces this node under the moodchat service so load balancers
// and peers can discover which nodes hold websocket sessions.
type Registry struct {
	ServiceName string
	Group       string
	IP          string
	Port        uint64

	mu       sync.Mutex
	metadata map[string]string
	client   naming_client.INamingClient
}

func NewRegistry(client naming_client.INamingClient, c Config, ip string, port uint64) *Registry {
	c.norm()
	return &Registry{
		ServiceName: c.Service,
		Group:       c.Group,
		IP:          ip,
		Port:        port,
		metadata:    make(map[string]string),
		client:      client,
	}
}

// SetMeta adds a metadata entry; it takes effect at the next Register.
func (r *Registry) SetMeta(k, v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[k] = v
}

func (r *Registry) Register() error {
	r.mu.Lock()
	meta := make(map[string]string, len(r.metadata))
	for k, v := range r.metadata {
		meta[k] = v
	}
	r.mu.Unlock()

	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		ClusterName: "DEFAULT",
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", r.ServiceName, err)
	}
	if !ok {
		return fmt.Errorf("register %s: returned false", r.ServiceName)
	}
	logger.Info("nacos registered", zap.String("service", r.ServiceName),
		zap.String("addr", fmt.Sprintf("%s:%d", r.IP, r.Port)), zap.Any("meta", meta))
	return nil
}

func (r *Registry) Deregister() error {
	_, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		Cluster:     "DEFAULT",
		Ephemeral:   true,
	})
	if err != nil {
		return fmt.Errorf("deregister %s: %w", r.ServiceName, err)
	}
	return nil
}

// Peers lists healthy instances of the service, this node included.
func (r *Registry) Peers() ([]string, error) {
	instances, err := r.client.SelectInstances(vo.SelectInstancesParam{
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		HealthyOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("select %s instances: %w", r.ServiceName, err)
	}
	out := make([]string, 0, len(instances))
	for _, inst := range instances {
		out = append(out, fmt.Sprintf("%s:%d", inst.Ip, inst.Port))
	}
	return out, nil
}
