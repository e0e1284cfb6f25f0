/*
Copyright 2022.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package state

import (
	"fmt"

	"github.com/ebpfmand/ebpfmand/internal/model"
)

// Key encodings, bit-exact across restarts:
//   programs/<k_id>
//   links/<link_id>
//   dispatchers/<nsid>/<ifindex>/<kind>
//   maps/<k_id>/<map_name>
//   program_maps/<owner_k_id>/<user_k_id>
// The leading tree name is implicit in the bucket, so keys here omit it.

func ProgramKey(kernelID uint32) string {
	return fmt.Sprintf("%d", kernelID)
}

func LinkKey(linkID string) string {
	return linkID
}

func DispatcherKey(key model.DispatcherSlotKey) string {
	return fmt.Sprintf("%d/%d/%s", key.NetnsID, key.IfIndex, key.Kind)
}

func DispatcherPrefixForInterface(netnsID uint64, ifIndex int) string {
	return fmt.Sprintf("%d/%d/", netnsID, ifIndex)
}

func MapKey(ownerKernelID uint32, mapName string) string {
	return fmt.Sprintf("%d/%s", ownerKernelID, mapName)
}

func MapPrefixForOwner(ownerKernelID uint32) string {
	return fmt.Sprintf("%d/", ownerKernelID)
}

func ProgramMapsKey(ownerKernelID, userKernelID uint32) string {
	return fmt.Sprintf("%d/%d", ownerKernelID, userKernelID)
}

func ProgramMapsPrefixForOwner(ownerKernelID uint32) string {
	return fmt.Sprintf("%d/", ownerKernelID)
}
