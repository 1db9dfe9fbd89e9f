package k8s

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
)

// RunOption is a functional option of a Runner
type RunOption interface {
	// ApplyTo copies the set properties onto the target
	ApplyTo(RunOption) error
}

// RunOptions carry what a Runner needs to reach the cluster. Clientset
// is only needed for the APIs the controller-runtime client does not
// cover e.g. pod logs.
type RunOptions struct {
	Client    client.Client
	Clientset kubernetes.Interface
	Scheme    *runtime.Scheme
}

var _ RunOption = (*RunOptions)(nil)

// ApplyTo copies the non nil clients & scheme onto the target
func (o *RunOptions) ApplyTo(target RunOption) error {
	if o == nil {
		return errors.New("nil receiver options")
	}
	targetObj, ok := target.(*RunOptions)
	if !ok || targetObj == nil {
		return errors.Errorf("invalid options type: want '*RunOptions' got %T", target)
	}
	if o.Client != nil {
		targetObj.Client = o.Client
	}
	if o.Clientset != nil {
		targetObj.Clientset = o.Clientset
	}
	if o.Scheme != nil {
		targetObj.Scheme = o.Scheme
	}
	return nil
}

// FromRunOptions assembles a new instance from the given options. Later
// options win.
func FromRunOptions(options ...RunOption) (*RunOptions, error) {
	var target RunOptions
	for _, o := range options {
		if o == nil {
			continue
		}
		if err := o.ApplyTo(&target); err != nil {
			return nil, err
		}
	}
	return &target, nil
}

// _defaultScheme understands all native Kubernetes API schemas
var _defaultScheme = func() *runtime.Scheme { return scheme.Scheme }

// base options apply to every Runner unless overridden by the options
// of the invocation
var (
	_baseRunOptions   = &RunOptions{}
	_baseRunOptionsMu sync.RWMutex
)

// RegisterBaseRunOptions sets the options every Runner starts from
func RegisterBaseRunOptions(options *RunOptions) error {
	if options == nil {
		return errors.New("nil base run options")
	}
	_baseRunOptionsMu.Lock()
	defer _baseRunOptionsMu.Unlock()
	_baseRunOptions = options
	return nil
}

// NewRunOptions builds run options talking to the cluster described by
// the given kubeconfig. An empty kubeconfig falls back to the usual
// lookup i.e. KUBECONFIG, in-cluster & then ~/.kube/config.
func NewRunOptions(kubeconfig string) (*RunOptions, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = config.GetConfig()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load kubeconfig")
	}
	c, err := client.New(cfg, client.Options{Scheme: _defaultScheme()})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialise client")
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialise clientset")
	}
	return &RunOptions{
		Client:    c,
		Clientset: cs,
		Scheme:    _defaultScheme(),
	}, nil
}

// ResolveRunOptions merges the registered base options with the given
// ones & defaults the client when none was provided
func ResolveRunOptions(options ...RunOption) (*RunOptions, error) {
	return makeRunOptions(options...)
}

func makeRunOptions(options ...RunOption) (*RunOptions, error) {
	_baseRunOptionsMu.RLock()
	base := *_baseRunOptions
	_baseRunOptionsMu.RUnlock()

	opts, err := FromRunOptions(append([]RunOption{&base}, options...)...)
	if err != nil {
		return nil, err
	}
	if opts.Client == nil {
		defaults, err := NewRunOptions("")
		if err != nil {
			return nil, err
		}
		opts.Client = defaults.Client
		if opts.Clientset == nil {
			opts.Clientset = defaults.Clientset
		}
	}
	if opts.Scheme == nil {
		opts.Scheme = _defaultScheme()
	}
	return opts, nil
}
