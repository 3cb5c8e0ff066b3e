// internal/indexer/store.go
package indexer

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/javajoker/catalog-metamodel/internal/errors"
	"github.com/javajoker/catalog-metamodel/internal/services"
)

// Store keeps one flattened document per composite instance.
type Store interface {
	Put(ctx context.Context, modelName string, id uuid.UUID, doc *services.FlatDocument) error
	Get(ctx context.Context, id uuid.UUID) (*services.FlatDocument, error)
	Delete(ctx context.Context, modelName string, id uuid.UUID) error
	IDs(ctx context.Context, modelName string) ([]string, error)
}

// RedisStore writes documents as JSON strings under prefix+id and tracks
// the ids of each model in the set prefix+"model:"+name.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) documentKey(id uuid.UUID) string {
	return s.prefix + id.String()
}

func (s *RedisStore) modelKey(modelName string) string {
	return s.prefix + "model:" + modelName
}

func (s *RedisStore) Put(ctx context.Context, modelName string, id uuid.UUID, doc *services.FlatDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshal document")
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.documentKey(id), payload, 0)
		pipe.SAdd(ctx, s.modelKey(modelName), id.String())
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "store document %s", id)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*services.FlatDocument, error) {
	payload, err := s.client.Get(ctx, s.documentKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.NotFoundf("document %s", id)
		}
		return nil, errors.Wrapf(err, "load document %s", id)
	}

	var doc services.FlatDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, errors.Wrapf(err, "decode document %s", id)
	}
	return &doc, nil
}

func (s *RedisStore) Delete(ctx context.Context, modelName string, id uuid.UUID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.documentKey(id))
		pipe.SRem(ctx, s.modelKey(modelName), id.String())
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "delete document %s", id)
	}
	return nil
}

// IDs lists the instance ids indexed for a model.
func (s *RedisStore) IDs(ctx context.Context, modelName string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.modelKey(modelName)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list documents of %s", modelName)
	}
	return ids, nil
}
