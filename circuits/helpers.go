package circuits

import (
	"fmt"
	"os"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"github.com/lightfold/lightfold/log"
)

// FrontendError function is an in-circuit function to print an error message
// and an error trace, making the circuit fail.
func FrontendError(api frontend.API, msg string, trace error) {
	err := fmt.Errorf("%s", msg)
	if trace != nil {
		err = fmt.Errorf("%w: %v", err, trace)
	}
	api.Println(err.Error())
	api.AssertIsEqual(1, 0)
}

// StoreConstraintSystem stores the constraint system in a file.
func StoreConstraintSystem(cs constraint.ConstraintSystem, filepath string) error {
	fd, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer fd.Close()
	if _, err := cs.WriteTo(fd); err != nil {
		return err
	}
	log.Debugw("constraint system stored", "file", filepath)
	return nil
}

// StoreVerificationKey stores the verification key in a file.
func StoreVerificationKey(vkey groth16.VerifyingKey, filepath string) error {
	fd, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer fd.Close()
	if _, err := vkey.WriteRawTo(fd); err != nil {
		return err
	}
	log.Debugw("verification key stored", "file", filepath)
	return nil
}
