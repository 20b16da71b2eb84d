package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/caffeineduck/capsule/resource"
)

type serviceBusQueue struct {
	client   *azservicebus.Client
	sender   *azservicebus.Sender
	receiver *azservicebus.Receiver
	mu       sync.Mutex
}

func connectionString(namespace, policy, key string) string {
	return fmt.Sprintf("Endpoint=sb://%s.servicebus.windows.net/;SharedAccessKeyName=%s;SharedAccessKey=%s", namespace, policy, key)
}

func openServiceBus(ctx context.Context, state resource.BasicState, name string) (Queue, error) {
	var creds [3]string
	for i, secret := range []string{"AZURE_SERVICE_BUS_NAMESPACE", "AZURE_POLICY_NAME", "AZURE_POLICY_KEY"} {
		v, err := state.Secret(ctx, secret)
		if err != nil {
			return nil, err
		}
		creds[i] = v
	}

	client, err := azservicebus.NewClientFromConnectionString(connectionString(creds[0], creds[1], creds[2]), nil)
	if err != nil {
		return nil, fmt.Errorf("service bus client: %w", err)
	}
	sender, err := client.NewSender(name, nil)
	if err != nil {
		client.Close(ctx)
		return nil, fmt.Errorf("service bus sender: %w", err)
	}
	receiver, err := client.NewReceiverForQueue(name, nil)
	if err != nil {
		sender.Close(ctx)
		client.Close(ctx)
		return nil, fmt.Errorf("service bus receiver: %w", err)
	}
	return &serviceBusQueue{client: client, sender: sender, receiver: receiver}, nil
}

func (q *serviceBusQueue) Send(ctx context.Context, msg []byte) error {
	if err := q.sender.SendMessage(ctx, &azservicebus.Message{Body: msg}, nil); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (q *serviceBusQueue) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msgs, err := q.receiver.ReceiveMessages(rctx, 1, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("receive: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	if err := q.receiver.CompleteMessage(ctx, msgs[0], nil); err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return msgs[0].Body, nil
}

func (q *serviceBusQueue) Close(ctx context.Context) error {
	return errors.Join(q.receiver.Close(ctx), q.sender.Close(ctx), q.client.Close(ctx))
}
