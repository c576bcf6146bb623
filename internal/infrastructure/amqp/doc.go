// Package amqp publishes FireWatch device events to a RabbitMQ topic
// exchange for downstream consumers (alerting pipelines, building
// management systems, archival jobs).
//
// The exchange is declared durable on connect. Routing keys follow
// device.<code>.<kind>, so a consumer bound to device.*.status receives
// every liveness transition and device.FW-001.# everything from one node.
//
//	client, err := amqp.Connect(ctx, cfg.AMQP)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(ctx, amqp.RoutingKey("FW-001", "status"), payload)
//
// A lost connection is redialled in the background with exponential
// backoff. Publishes fail with ErrNotConnected until it is back.
package amqp
