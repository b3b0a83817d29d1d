// Package kubernetes provides surge.Store and surge.Source implementations
// backed by Kubernetes ConfigMaps or Secrets. Each surge document is one
// resource in a namespace; root keys are the resource's data keys, so they
// must be valid ConfigMap keys.
package kubernetes

import (
	"context"
	"fmt"
	"iter"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"

	"github.com/zoobzio/surge"
)

// ResourceType specifies the kind of Kubernetes resource holding documents.
type ResourceType int

const (
	// ConfigMap stores documents in ConfigMaps.
	ConfigMap ResourceType = iota
	// Secret stores documents in Secrets.
	Secret
)

type config struct {
	resourceType  ResourceType
	labels        map[string]string
	labelSelector string
	pageSize      int64
}

// Option configures a Store or Source.
type Option func(*config)

// WithResourceType sets the resource type. Defaults to ConfigMap.
func WithResourceType(rt ResourceType) Option {
	return func(c *config) {
		c.resourceType = rt
	}
}

// WithLabels sets labels applied to resources a Store creates.
func WithLabels(labels map[string]string) Option {
	return func(c *config) {
		c.labels = labels
	}
}

// WithLabelSelector restricts a Source to resources matching selector.
func WithLabelSelector(selector string) Option {
	return func(c *config) {
		c.labelSelector = selector
	}
}

// WithPageSize sets the list page size used by a Source. Defaults to 100.
func WithPageSize(n int64) Option {
	return func(c *config) {
		c.pageSize = n
	}
}

func newConfig(opts []Option) config {
	c := config{resourceType: ConfigMap, pageSize: 100}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Store merges each batch into a resource with a single update. Updates that
// lose a resourceVersion race are retried against the latest object.
type Store struct {
	client    kubernetes.Interface
	namespace string
	cfg       config
}

// NewStore creates a Store writing resources in namespace.
func NewStore(client kubernetes.Interface, namespace string, opts ...Option) *Store {
	return &Store{client: client, namespace: namespace, cfg: newConfig(opts)}
}

// Flush applies the batch to the resource named id, creating it if needed.
func (s *Store) Flush(ctx context.Context, id string, batch []surge.Mutation) error {
	batch = surge.Compact(batch)
	if len(batch) == 0 {
		return nil
	}
	var err error
	if s.cfg.resourceType == Secret {
		err = retry.RetryOnConflict(retry.DefaultRetry, func() error {
			return s.flushSecret(ctx, id, batch)
		})
	} else {
		err = retry.RetryOnConflict(retry.DefaultRetry, func() error {
			return s.flushConfigMap(ctx, id, batch)
		})
	}
	if err != nil {
		return fmt.Errorf("failed to flush %s/%s: %w", s.namespace, id, err)
	}
	return nil
}

func (s *Store) flushConfigMap(ctx context.Context, id string, batch []surge.Mutation) error {
	api := s.client.CoreV1().ConfigMaps(s.namespace)
	cm, err := api.Get(ctx, id, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		cm = &corev1.ConfigMap{ObjectMeta: s.objectMeta(id), Data: make(map[string]string, len(batch))}
		for _, m := range batch {
			cm.Data[m.Key] = string(m.Value)
		}
		_, err = api.Create(ctx, cm, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return apierrors.NewConflict(corev1.Resource("configmaps"), id, err)
		}
		return err
	}
	if err != nil {
		return err
	}
	if cm.Data == nil {
		cm.Data = make(map[string]string, len(batch))
	}
	for _, m := range batch {
		cm.Data[m.Key] = string(m.Value)
	}
	_, err = api.Update(ctx, cm, metav1.UpdateOptions{})
	return err
}

func (s *Store) flushSecret(ctx context.Context, id string, batch []surge.Mutation) error {
	api := s.client.CoreV1().Secrets(s.namespace)
	secret, err := api.Get(ctx, id, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		secret = &corev1.Secret{ObjectMeta: s.objectMeta(id), Data: make(map[string][]byte, len(batch))}
		for _, m := range batch {
			secret.Data[m.Key] = m.Value
		}
		_, err = api.Create(ctx, secret, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return apierrors.NewConflict(corev1.Resource("secrets"), id, err)
		}
		return err
	}
	if err != nil {
		return err
	}
	if secret.Data == nil {
		secret.Data = make(map[string][]byte, len(batch))
	}
	for _, m := range batch {
		secret.Data[m.Key] = m.Value
	}
	_, err = api.Update(ctx, secret, metav1.UpdateOptions{})
	return err
}

func (s *Store) objectMeta(id string) metav1.ObjectMeta {
	return metav1.ObjectMeta{Name: id, Namespace: s.namespace, Labels: s.cfg.labels}
}

// Source enumerates resources in a namespace whose name starts with a prefix.
// Resources are listed a page at a time.
type Source struct {
	client    kubernetes.Interface
	namespace string
	prefix    string
	cfg       config
}

// NewSource creates a Source over resources in namespace whose name starts
// with prefix.
func NewSource(client kubernetes.Interface, namespace, prefix string, opts ...Option) *Source {
	return &Source{client: client, namespace: namespace, prefix: prefix, cfg: newConfig(opts)}
}

// Enumerate yields matching resources as documents.
func (s *Source) Enumerate(ctx context.Context, match surge.Match) iter.Seq2[surge.Document, error] {
	return func(yield func(surge.Document, error) bool) {
		opts := metav1.ListOptions{LabelSelector: s.cfg.labelSelector, Limit: s.cfg.pageSize}
		for {
			docs, next, err := s.list(ctx, opts)
			if err != nil {
				if ctx.Err() == nil {
					yield(surge.Document{}, fmt.Errorf("failed to list %s: %w", s.namespace, err))
				}
				return
			}
			for _, d := range docs {
				if !strings.HasPrefix(d.ID, s.prefix) || !match.Accepts(d.ID) {
					continue
				}
				if !yield(d, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			opts.Continue = next
		}
	}
}

func (s *Source) list(ctx context.Context, opts metav1.ListOptions) ([]surge.Document, string, error) {
	if s.cfg.resourceType == Secret {
		list, err := s.client.CoreV1().Secrets(s.namespace).List(ctx, opts)
		if err != nil {
			return nil, "", err
		}
		docs := make([]surge.Document, 0, len(list.Items))
		for _, item := range list.Items {
			root := make(surge.Root, len(item.Data))
			for k, v := range item.Data {
				root[k] = v
			}
			docs = append(docs, surge.Document{ID: item.Name, Root: root})
		}
		return docs, list.Continue, nil
	}

	list, err := s.client.CoreV1().ConfigMaps(s.namespace).List(ctx, opts)
	if err != nil {
		return nil, "", err
	}
	docs := make([]surge.Document, 0, len(list.Items))
	for _, item := range list.Items {
		root := make(surge.Root, len(item.Data))
		for k, v := range item.Data {
			root[k] = []byte(v)
		}
		docs = append(docs, surge.Document{ID: item.Name, Root: root})
	}
	return docs, list.Continue, nil
}

// Ensure Store and Source implement the surge interfaces.
var (
	_ surge.Store  = (*Store)(nil)
	_ surge.Source = (*Source)(nil)
)
