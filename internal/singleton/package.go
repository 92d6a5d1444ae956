// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
   Package singleton runs a service on exactly one member of the
   group.

   Every member that wants to host a singleton starts it with the same
   identifier. On each view change every member computes the
   election from the view alone: the candidates are the view's
   members that pass the singleton's eligibility predicate, in view
   order, and the policy picks one of them. Because all members see
   the same view they compute the same winner without exchanging any
   messages.

   Acting on the result is left to one member, the coordinator: the
   first member of the view that hosts the singleton. It sends a
   StopCommand to every other candidate (and to the previous primary
   if it left the view) and then a StartCommand to the winner. If the
   winner can't be started it is dropped from the candidates and the
   election is run again among the rest. Failures are logged, never
   retried; the next view change reconciles. Start and stop are
   idempotent on the receiving member so duplicate or reordered
   commands are harmless.
*/

package singleton
