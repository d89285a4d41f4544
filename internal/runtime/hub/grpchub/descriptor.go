package grpchub

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/drblury/hubprovider/internal/runtime/hub"
)

// Full method names of the hub service.
const (
	ServiceName            = "hub.Hub"
	GetTaskMethod          = "/hub.Hub/GetTask"
	SubmitTaskResultMethod = "/hub.Hub/SubmitTaskResult"
)

var (
	hubFile             protoreflect.FileDescriptor
	providerRequestDesc protoreflect.MessageDescriptor
	taskDesc            protoreflect.MessageDescriptor
	taskResultDesc      protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(hubFileProto(), nil)
	if err != nil {
		panic(fmt.Sprintf("hubprovider: build hub descriptor: %v", err))
	}
	hubFile = fd
	msgs := fd.Messages()
	providerRequestDesc = msgs.ByName("ProviderRequest")
	taskDesc = msgs.ByName("Task")
	taskResultDesc = msgs.ByName("TaskResult")
}

// FileDescriptor exposes the hub service schema, e.g. for reflection.
func FileDescriptor() protoreflect.FileDescriptor { return hubFile }

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     typ.Enum(),
	}
}

// hubFileProto mirrors:
//
//	message ProviderRequest { string provider = 1; string auth_token = 2; }
//	message Task { string task_id = 1; string action = 2; bytes payload = 3; bytes account = 4; string recreated_from = 5; }
//	message TaskResult { string task_id = 1; string provider = 2; string auth_token = 3; string status = 4;
//	                     string action = 5; bytes payload = 6; bytes result = 7; bytes account = 8; }
//	service Hub {
//	  rpc GetTask(ProviderRequest) returns (Task);
//	  rpc SubmitTaskResult(TaskResult) returns (Task);
//	}
func hubFileProto() *descriptorpb.FileDescriptorProto {
	str := descriptorpb.FieldDescriptorProto_TYPE_STRING
	byt := descriptorpb.FieldDescriptorProto_TYPE_BYTES
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("hub.proto"),
		Package: proto.String("hub"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("ProviderRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("provider", 1, str),
					field("auth_token", 2, str),
				},
			},
			{
				Name: proto.String("Task"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("task_id", 1, str),
					field("action", 2, str),
					field("payload", 3, byt),
					field("account", 4, byt),
					field("recreated_from", 5, str),
				},
			},
			{
				Name: proto.String("TaskResult"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("task_id", 1, str),
					field("provider", 2, str),
					field("auth_token", 3, str),
					field("status", 4, str),
					field("action", 5, str),
					field("payload", 6, byt),
					field("result", 7, byt),
					field("account", 8, byt),
				},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Hub"),
			Method: []*descriptorpb.MethodDescriptorProto{
				{
					Name:       proto.String("GetTask"),
					InputType:  proto.String(".hub.ProviderRequest"),
					OutputType: proto.String(".hub.Task"),
				},
				{
					Name:       proto.String("SubmitTaskResult"),
					InputType:  proto.String(".hub.TaskResult"),
					OutputType: proto.String(".hub.Task"),
				},
			},
		}},
	}
}

func setString(m *dynamicpb.Message, name, value string) {
	if value != "" {
		m.Set(m.Descriptor().Fields().ByName(protoreflect.Name(name)), protoreflect.ValueOfString(value))
	}
}

func setBytes(m *dynamicpb.Message, name string, value []byte) {
	if len(value) > 0 {
		m.Set(m.Descriptor().Fields().ByName(protoreflect.Name(name)), protoreflect.ValueOfBytes(value))
	}
}

func getString(m *dynamicpb.Message, name string) string {
	return m.Get(m.Descriptor().Fields().ByName(protoreflect.Name(name))).String()
}

func getBytes(m *dynamicpb.Message, name string) []byte {
	b := m.Get(m.Descriptor().Fields().ByName(protoreflect.Name(name))).Bytes()
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func encodeIdentity(id hub.Identity) *dynamicpb.Message {
	m := dynamicpb.NewMessage(providerRequestDesc)
	setString(m, "provider", id.Provider)
	setString(m, "auth_token", id.AuthToken)
	return m
}

func decodeIdentity(m *dynamicpb.Message) hub.Identity {
	return hub.Identity{Provider: getString(m, "provider"), AuthToken: getString(m, "auth_token")}
}

func encodeTask(t *hub.Task) *dynamicpb.Message {
	m := dynamicpb.NewMessage(taskDesc)
	if t == nil {
		return m
	}
	setString(m, "task_id", t.ID)
	setString(m, "action", t.Action)
	setBytes(m, "payload", t.Payload)
	setBytes(m, "account", t.Account)
	setString(m, "recreated_from", t.RecreatedFrom)
	return m
}

func decodeTask(m *dynamicpb.Message) *hub.Task {
	return &hub.Task{
		ID:            getString(m, "task_id"),
		Action:        getString(m, "action"),
		Payload:       getBytes(m, "payload"),
		Account:       getBytes(m, "account"),
		RecreatedFrom: getString(m, "recreated_from"),
	}
}

func encodeResult(r hub.Result) *dynamicpb.Message {
	m := dynamicpb.NewMessage(taskResultDesc)
	setString(m, "task_id", r.TaskID)
	setString(m, "provider", r.Provider)
	setString(m, "auth_token", r.AuthToken)
	setString(m, "status", r.Status)
	setString(m, "action", r.Action)
	setBytes(m, "payload", r.Payload)
	setBytes(m, "result", r.Result)
	setBytes(m, "account", r.Account)
	return m
}

func decodeResult(m *dynamicpb.Message) hub.Result {
	return hub.Result{
		TaskID:    getString(m, "task_id"),
		Provider:  getString(m, "provider"),
		AuthToken: getString(m, "auth_token"),
		Status:    getString(m, "status"),
		Action:    getString(m, "action"),
		Payload:   getBytes(m, "payload"),
		Result:    getBytes(m, "result"),
		Account:   getBytes(m, "account"),
	}
}
