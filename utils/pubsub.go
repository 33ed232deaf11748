package utils

import (
	"github.com/go-redis/redis"
)

type Publisher struct {
	client *redis.Client
}

func NewPublisher(addr string) *Publisher {
	return &Publisher{
		client: redis.NewClient(
			&redis.Options{
				Addr:     addr,
				Password: "",
				DB:       0,
			}),
	}
}

func (p *Publisher) Publish(channel string, data []byte) error {
	return p.client.Publish(channel, data).Err()
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
