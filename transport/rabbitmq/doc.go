// Package rabbitmq connects agents across processes over RabbitMQ.
//
// A Server consumes the request queue of a local agent and answers every
// delivery with the messages the agent produced. A Client is the remote
// counterpart: it implements core.Agent, so a network or propagator can
// dispatch to an agent living in another process exactly like to a local one.
//
// Requests and replies travel as JSON envelopes correlated by the AMQP
// correlation id. Delivery guarantees are those of the broker.
package rabbitmq
