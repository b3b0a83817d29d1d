package main

import (
	"context"
	"fmt"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/go-zookeeper/zk"
	consulapi "github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5/pgxpool"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/zoobzio/surge"
	"github.com/zoobzio/surge/pkg/consul"
	"github.com/zoobzio/surge/pkg/etcd"
	"github.com/zoobzio/surge/pkg/file"
	"github.com/zoobzio/surge/pkg/firestore"
	"github.com/zoobzio/surge/pkg/kubernetes"
	"github.com/zoobzio/surge/pkg/nats"
	"github.com/zoobzio/surge/pkg/postgres"
	"github.com/zoobzio/surge/pkg/redis"
	"github.com/zoobzio/surge/pkg/zookeeper"
)

const dialTimeout = 5 * time.Second

// target names where documents live.
type target struct {
	backend   string
	addr      string
	namespace string
	match     string
	project   string
	bucket    string
}

// backend is an opened Store and Source pair.
type backend struct {
	store  surge.Store
	source surge.Source
	close  func()
}

func noop() {}

// open connects to the target's backend.
func open(ctx context.Context, t target) (backend, error) {
	switch t.backend {
	case "file":
		return backend{store: file.NewStore(t.addr), source: file.NewSource(t.addr), close: noop}, nil

	case "redis":
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{t.addr}})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return backend{}, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return backend{
			store:  redis.NewStore(client, t.namespace),
			source: redis.NewSource(client, t.namespace),
			close:  func() { client.Close() },
		}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, t.addr)
		if err != nil {
			return backend{}, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		table := t.namespace
		if table == "" {
			table = postgres.DefaultTable
		}
		return backend{
			store:  postgres.NewStore(pool, postgres.WithTable(table)),
			source: postgres.NewSource(pool, t.match, postgres.WithTable(table)),
			close:  pool.Close,
		}, nil

	case "nats":
		nc, err := natsgo.Connect(t.addr)
		if err != nil {
			return backend{}, fmt.Errorf("failed to connect to nats: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return backend{}, fmt.Errorf("failed to create jetstream: %w", err)
		}
		kv, err := js.KeyValue(ctx, t.bucket)
		if err != nil {
			nc.Close()
			return backend{}, fmt.Errorf("failed to open bucket %q: %w", t.bucket, err)
		}
		return backend{
			store:  nats.NewStore(kv, t.namespace),
			source: nats.NewSource(kv, t.namespace),
			close:  nc.Close,
		}, nil

	case "etcd":
		client, err := clientv3.New(clientv3.Config{Endpoints: []string{t.addr}, DialTimeout: dialTimeout})
		if err != nil {
			return backend{}, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		return backend{
			store:  etcd.NewStore(client, t.namespace),
			source: etcd.NewSource(client, t.namespace),
			close:  func() { client.Close() },
		}, nil

	case "consul":
		client, err := consulapi.NewClient(&consulapi.Config{Address: t.addr})
		if err != nil {
			return backend{}, fmt.Errorf("failed to create consul client: %w", err)
		}
		return backend{
			store:  consul.NewStore(client, t.namespace),
			source: consul.NewSource(client, t.namespace),
			close:  noop,
		}, nil

	case "zookeeper":
		conn, _, err := zk.Connect([]string{t.addr}, dialTimeout)
		if err != nil {
			return backend{}, fmt.Errorf("failed to connect to zookeeper: %w", err)
		}
		return backend{
			store:  zookeeper.NewStore(conn, t.namespace),
			source: zookeeper.NewSource(conn, t.namespace),
			close:  conn.Close,
		}, nil

	case "firestore":
		client, err := gcfirestore.NewClient(ctx, t.project)
		if err != nil {
			return backend{}, fmt.Errorf("failed to create firestore client: %w", err)
		}
		return backend{
			store:  firestore.NewStore(client, t.namespace),
			source: firestore.NewSource(client, t.namespace, t.match),
			close:  func() { client.Close() },
		}, nil

	case "kubernetes":
		restConfig, err := clientcmd.BuildConfigFromFlags("", t.addr)
		if err != nil {
			return backend{}, fmt.Errorf("failed to load kubeconfig: %w", err)
		}
		client, err := k8s.NewForConfig(restConfig)
		if err != nil {
			return backend{}, fmt.Errorf("failed to create kubernetes client: %w", err)
		}
		namespace := t.namespace
		if namespace == "" {
			namespace = "default"
		}
		return backend{
			store:  kubernetes.NewStore(client, namespace),
			source: kubernetes.NewSource(client, namespace, t.match),
			close:  noop,
		}, nil

	default:
		return backend{}, fmt.Errorf("unknown backend %q", t.backend)
	}
}
