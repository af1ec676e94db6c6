// Package aws provides an AWS SNS/SQS transport for typebus. Messages are
// published to SNS topics and consumed from SQS queues, with the delivery
// attempt count sourced from the ApproximateReceiveCount attribute and the
// invisibility window driven through ChangeMessageVisibility.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	smithyendpoints "github.com/aws/smithy-go/endpoints"
	"github.com/bytedance/sonic"

	"github.com/queueworks/typebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

// SubjectAttribute is the SQS/SNS message attribute carrying the subject
// when raw message delivery is enabled on the subscription.
const SubjectAttribute = "typebus_subject"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// SQSAPI is the subset of the SQS client used by the consumer.
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, params *amazonsqs.GetQueueUrlInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *amazonsqs.ReceiveMessageInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *amazonsqs.DeleteMessageInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *amazonsqs.ChangeMessageVisibilityInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.ChangeMessageVisibilityOutput, error)
}

// SNSAPI is the subset of the SNS client used by the publisher.
type SNSAPI interface {
	Publish(ctx context.Context, params *amazonsns.PublishInput, optFns ...func(*amazonsns.Options)) (*amazonsns.PublishOutput, error)
}

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// SQSClientFactory allows overriding the SQS client creation for testing.
var SQSClientFactory = func(cfg aws.Config, optFns ...func(*amazonsqs.Options)) SQSAPI {
	return amazonsqs.NewFromConfig(cfg, optFns...)
}

// SNSClientFactory allows overriding the SNS client creation for testing.
var SNSClientFactory = func(cfg aws.Config, optFns ...func(*amazonsns.Options)) SNSAPI {
	return amazonsns.NewFromConfig(cfg, optFns...)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// Build creates a new AWS SNS/SQS transport.
func Build(ctx context.Context, cfg transport.Config, logger transport.Logger) (transport.Transport, error) {
	awsCfg, err := createAWSConfig(ctx, cfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	logger.Info("Created AWS config", map[string]any{
		"region":          awsCfg.Region,
		"custom_endpoint": hasCustomEndpoint(awsCfg),
	})

	snsOpts, sqsOpts, err := endpointOptions(cfg, awsCfg)
	if err != nil {
		return transport.Transport{}, err
	}

	accountID, region := resolveAccountAndRegion(cfg, logger, awsCfg.Region)

	publisher := &Publisher{
		client:    SNSClientFactory(*awsCfg, snsOpts...),
		accountID: accountID,
		region:    region,
		logger:    logger,
	}

	opener := &consumerOpener{
		client: SQSClientFactory(*awsCfg, sqsOpts...),
		logger: logger,
	}

	return transport.Transport{
		Publisher: publisher,
		Consumers: opener,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

func createAWSConfig(ctx context.Context, cfg transport.Config, logger transport.Logger) (*aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg != nil {
		region := cfg.GetAWSRegion()
		accessKey := cfg.GetAWSAccessKeyID()
		secretKey := cfg.GetAWSSecretAccessKey()

		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		if accessKey != "" && secretKey != "" {
			logger.Info("Using static AWS credentials from config", nil)
			opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(accessKey, secretKey)))
		}
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, nil)
		return nil, err
	}

	// Ensure region is set even if the loader ignores options
	if cfg != nil && cfg.GetAWSRegion() != "" {
		awsCfg.Region = cfg.GetAWSRegion()
	}
	if cfg != nil && cfg.GetAWSEndpoint() != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.GetAWSEndpoint())
	}

	return &awsCfg, nil
}

// staticEndpointResolver pins every SDK call to one endpoint, which is how
// LocalStack and other emulators are addressed.
type staticEndpointResolver struct {
	endpoint url.URL
}

func (r staticEndpointResolver) resolve() (smithyendpoints.Endpoint, error) {
	return smithyendpoints.Endpoint{URI: r.endpoint}, nil
}

type sqsEndpointResolver struct{ staticEndpointResolver }

func (r sqsEndpointResolver) ResolveEndpoint(ctx context.Context, params amazonsqs.EndpointParameters) (smithyendpoints.Endpoint, error) {
	return r.resolve()
}

type snsEndpointResolver struct{ staticEndpointResolver }

func (r snsEndpointResolver) ResolveEndpoint(ctx context.Context, params amazonsns.EndpointParameters) (smithyendpoints.Endpoint, error) {
	return r.resolve()
}

func endpointOptions(cfg transport.Config, awsCfg *aws.Config) ([]func(*amazonsns.Options), []func(*amazonsqs.Options), error) {
	if !hasCustomEndpoint(awsCfg) {
		return nil, nil, nil
	}

	parsedURL, err := url.Parse(*awsCfg.BaseEndpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}

	static := staticEndpointResolver{endpoint: *parsedURL}
	snsOpts := []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(snsEndpointResolver{static}),
	}
	sqsOpts := []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqsEndpointResolver{static}),
	}
	return snsOpts, sqsOpts, nil
}

func resolveAccountAndRegion(cfg transport.Config, logger transport.Logger, fallbackRegion string) (string, string) {
	if cfg == nil {
		return "", fallbackRegion
	}

	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	region := cfg.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}

	if accountID == "" && useLocalstackEndpoint(cfg) {
		accountID = localstackAccountID
		logger.Info("AWS account ID empty; using LocalStack default", map[string]any{"accountID": accountID})
		return accountID, region
	}

	if accountID != "" && len(accountID) != awsAccountIDLength && useLocalstackEndpoint(cfg) {
		logger.Info("Invalid AWS account ID; falling back to LocalStack default", map[string]any{"accountID": accountID})
		accountID = localstackAccountID
	}

	return accountID, region
}

func useLocalstackEndpoint(cfg transport.Config) bool {
	return cfg != nil && cfg.GetAWSEndpoint() != ""
}

func hasCustomEndpoint(cfg *aws.Config) bool {
	return cfg != nil && cfg.BaseEndpoint != nil && *cfg.BaseEndpoint != ""
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}

// Publisher publishes typebus messages to SNS topics. Topic ARNs are
// generated from the configured account and region.
type Publisher struct {
	client    SNSAPI
	accountID string
	region    string
	logger    transport.Logger
}

// Publish sends the payload to the topic with the subject carried both in
// the SNS Subject field and as a message attribute, so subscriptions with
// and without raw message delivery can route it.
func (p *Publisher) Publish(ctx context.Context, topic, subject string, payload []byte, attributes map[string]string) error {
	topicARN, err := p.topicARN(topic)
	if err != nil {
		return err
	}

	messageAttributes := make(map[string]snstypes.MessageAttributeValue, len(attributes)+1)
	for k, v := range attributes {
		messageAttributes[k] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	messageAttributes[SubjectAttribute] = snstypes.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(subject),
	}

	input := &amazonsns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(string(payload)),
		MessageAttributes: messageAttributes,
	}
	if subject != "" {
		input.Subject = aws.String(subject)
	}

	if _, err := p.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("aws: publish to %s failed: %w", topic, err)
	}
	return nil
}

func (p *Publisher) topicARN(topic string) (string, error) {
	if p.accountID == "" || p.region == "" {
		return "", fmt.Errorf("aws: cannot build topic ARN for %q: account ID and region are required", topic)
	}
	return fmt.Sprintf("arn:aws:sns:%s:%s:%s", p.region, p.accountID, topic), nil
}

type consumerOpener struct {
	client SQSAPI
	logger transport.Logger
}

// OpenConsumer resolves the queue URL once and returns a consumer bound to it.
func (o *consumerOpener) OpenConsumer(ctx context.Context, queue string) (transport.Consumer, error) {
	out, err := o.client.GetQueueUrl(ctx, &amazonsqs.GetQueueUrlInput{
		QueueName: aws.String(queue),
	})
	if err != nil {
		return nil, fmt.Errorf("aws: resolving URL for queue %q: %w", queue, err)
	}
	return &Consumer{
		client:   o.client,
		queue:    queue,
		queueURL: aws.ToString(out.QueueUrl),
		logger:   o.logger,
	}, nil
}

// Consumer receives and acknowledges messages on one SQS queue.
type Consumer struct {
	client   SQSAPI
	queue    string
	queueURL string
	logger   transport.Logger
}

// Queue returns the queue name this consumer is bound to.
func (c *Consumer) Queue() string { return c.queue }

// Receive long-polls the queue for up to wait and returns at most maxCount
// messages. An empty result is a normal poll outcome.
func (c *Consumer) Receive(ctx context.Context, maxCount int, wait time.Duration) ([]transport.RawMessage, error) {
	if maxCount <= 0 || maxCount > 10 {
		maxCount = 10 // SQS receive limit
	}

	out, err := c.client.ReceiveMessage(ctx, &amazonsqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: int32(maxCount),
		WaitTimeSeconds:     int32(wait / time.Second),
		MessageAttributeNames: []string{
			"All",
		},
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("aws: receive from %s failed: %w", c.queue, err)
	}

	now := time.Now()
	batch := make([]transport.RawMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		batch = append(batch, c.toRawMessage(m, now))
	}
	return batch, nil
}

// Delete acknowledges the message, permanently removing it from the queue.
func (c *Consumer) Delete(ctx context.Context, msg transport.RawMessage) error {
	_, err := c.client.DeleteMessage(ctx, &amazonsqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("aws: delete on %s failed: %w", c.queue, err)
	}
	return nil
}

// ChangeVisibility adjusts how long the message stays invisible before the
// queue redelivers it.
func (c *Consumer) ChangeVisibility(ctx context.Context, msg transport.RawMessage, timeout time.Duration) error {
	seconds := int64(timeout / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	if max := transport.AWSCapabilities.MaxVisibilityTimeout; seconds > max {
		seconds = max
	}

	_, err := c.client.ChangeMessageVisibility(ctx, &amazonsqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: int32(seconds),
	})
	if err != nil {
		return fmt.Errorf("aws: change visibility on %s failed: %w", c.queue, err)
	}
	return nil
}

// snsEnvelope is the notification wrapper SQS receives when the SNS
// subscription does not use raw message delivery.
type snsEnvelope struct {
	Type              string            `json:"Type"`
	MessageID         string            `json:"MessageId"`
	Subject           string            `json:"Subject"`
	Message           string            `json:"Message"`
	MessageAttributes map[string]struct {
		Type  string `json:"Type"`
		Value string `json:"Value"`
	} `json:"MessageAttributes"`
}

func (c *Consumer) toRawMessage(m sqstypes.Message, now time.Time) transport.RawMessage {
	raw := transport.RawMessage{
		MessageID:     aws.ToString(m.MessageId),
		Body:          []byte(aws.ToString(m.Body)),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
		Attempts:      parseReceiveCount(m.Attributes),
		Queue:         c.queue,
		ReceivedAt:    now,
	}

	if len(m.MessageAttributes) > 0 {
		raw.Attributes = make(map[string]string, len(m.MessageAttributes))
		for k, v := range m.MessageAttributes {
			raw.Attributes[k] = aws.ToString(v.StringValue)
		}
	}

	if subject, ok := raw.Attributes[SubjectAttribute]; ok {
		// Raw message delivery: the payload is the message itself.
		raw.Subject = subject
		return raw
	}

	var envelope snsEnvelope
	if err := sonic.Unmarshal(raw.Body, &envelope); err == nil && envelope.Type == "Notification" {
		raw.Subject = envelope.Subject
		raw.Body = []byte(envelope.Message)
		if subject, ok := envelope.MessageAttributes[SubjectAttribute]; ok && subject.Value != "" {
			raw.Subject = subject.Value
		}
	}

	return raw
}

func parseReceiveCount(attributes map[string]string) int {
	raw, ok := attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 1 {
		return 1
	}
	return count
}
